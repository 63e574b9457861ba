package main

import (
	"go.uber.org/fx"

	"github.com/joeydtaylor/keystone-core/pkg/serverfx"
)

func main() {
	fx.New(serverfx.Module()).Run()
}
