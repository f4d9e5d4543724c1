package main

import (
	"context"
	"fmt"
	"net"

	"github.com/walletgate/identity-broker/config"
	"github.com/walletgate/identity-broker/rpc"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		panic(err)
	}

	s, err := rpc.New(cfg)
	if err != nil {
		panic(err)
	}
	defer s.Stop(context.Background())

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Service.ListenPort))
	if err != nil {
		panic(err)
	}

	if err := s.Run(context.Background(), l); err != nil {
		panic(err)
	}
}
