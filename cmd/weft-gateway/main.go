package main

import (
	"log"

	"github.com/weftworks/weft/core/gateway"
	"github.com/weftworks/weft/core/infra/buildinfo"
	"github.com/weftworks/weft/core/infra/config"
)

func main() {
	buildinfo.Log("weft-gateway")
	cfg := config.Load()
	if err := gateway.Run(cfg); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
