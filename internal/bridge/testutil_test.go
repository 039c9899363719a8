package bridge

import "github.com/beamcode/beamcode/internal/gatekeeper"

func testGatekeeper() *gatekeeper.Gatekeeper {
	return gatekeeper.New(gatekeeper.Config{BurstSize: 1000, TokensPerSecond: 1000})
}

func testIdentity() gatekeeper.Identity {
	return gatekeeper.Identity{ID: "c1"}
}
