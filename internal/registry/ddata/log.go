package ddata

import "github.com/dep2p/go-topicreg/pkg/lib/log"

var logger = log.Logger("registry/ddata")
