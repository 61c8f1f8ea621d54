package weft

// Version is the release of this build. It is overridden at link time:
//
//	go build -ldflags "-X github.com/aretw0/weft.Version=v0.3.0" ./cmd/weft
var Version = "dev"
