package record

import "github.com/sigurn/crc16"

func crcInit() uint16                     { return crc16.Init(crcTable) }
func crcUpdate(c uint16, p []byte) uint16 { return crc16.Update(c, p, crcTable) }
func crcComplete(c uint16) uint16         { return crc16.Complete(c, crcTable) }
