package udt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/arloliu/go-udt/engine"
)

// Option identifies a socket option.
type Option int

const (
	// OptMessageMode reports whether the socket preserves message boundaries (UDT_DGRAM).
	OptMessageMode Option = iota
	// OptIPv6 reports whether the socket uses the IPv6 family (UDT_IPV6).
	OptIPv6
	// OptSendSync makes Connect and Send block (UDT_SNDSYN).
	OptSendSync
	// OptRecvSync makes Accept and Recv block (UDT_RCVSYN).
	OptRecvSync
	// OptSendTimeout bounds a blocking Send, zero means no limit (UDT_SNDTIMEO).
	OptSendTimeout
	// OptRecvTimeout bounds a blocking Accept or Recv, zero means no limit (UDT_RCVTIMEO).
	OptRecvTimeout
	// OptLinger bounds how long Close flushes pending data (UDT_LINGER).
	OptLinger
	// OptMSS is the maximum packet size including IP and UDP headers (UDT_MSS).
	OptMSS
	// OptFlowWindow is the maximum number of packets in flight (UDT_FC).
	OptFlowWindow
	// OptSendBuffer is the send buffer size in bytes (UDT_SNDBUF).
	OptSendBuffer
	// OptRecvBuffer is the receive buffer size in bytes (UDT_RCVBUF).
	OptRecvBuffer
	// OptUDPSendBuffer is the OS send buffer of the UDP socket (UDP_SNDBUF).
	OptUDPSendBuffer
	// OptUDPRecvBuffer is the OS receive buffer of the UDP socket (UDP_RCVBUF).
	OptUDPRecvBuffer
	// OptReuseAddr allows rebinding an address in use (UDT_REUSEADDR).
	OptReuseAddr
	// OptMaxBandwidth caps the send rate in bytes per second, -1 means unlimited (UDT_MAXBW).
	OptMaxBandwidth
	// OptSendData is the number of bytes waiting in the send buffer (UDT_SNDDATA).
	OptSendData
	// OptRecvData is the number of bytes ready to be received (UDT_RCVDATA).
	OptRecvData

	optionCount
)

// ValueKind is the Go type of an option value.
type ValueKind uint8

const (
	// BoolValue options take and return bool.
	BoolValue ValueKind = iota
	// IntValue options take any Go integer and return int64.
	IntValue
	// DurationValue options take and return time.Duration.
	DurationValue
)

func (k ValueKind) String() string {
	switch k {
	case BoolValue:
		return "bool"
	case IntValue:
		return "int"
	case DurationValue:
		return "duration"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Class is the timing class of an option: when it may be written.
type Class uint8

const (
	// ReadOnly options can never be written.
	ReadOnly Class = iota
	// Always options can be written in any status; the write affects the next operation.
	Always
	// PreBind options can be written until the socket is bound.
	PreBind
	// PreConnect options can be written until the socket starts connecting.
	PreConnect
)

func (c Class) String() string {
	switch c {
	case ReadOnly:
		return "read-only"
	case Always:
		return "always"
	case PreBind:
		return "pre-bind"
	case PreConnect:
		return "pre-connect"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

type optionInfo struct {
	name  string
	kind  ValueKind
	class Class
	// engine owned options are stored by the engine; the rest are socket local
	engineOpt engine.Option
	owned     bool
}

var optionTable = [optionCount]optionInfo{
	OptMessageMode:   {name: "UDT_DGRAM", kind: BoolValue, class: ReadOnly},
	OptIPv6:          {name: "UDT_IPV6", kind: BoolValue, class: ReadOnly},
	OptSendSync:      {name: "UDT_SNDSYN", kind: BoolValue, class: Always},
	OptRecvSync:      {name: "UDT_RCVSYN", kind: BoolValue, class: Always},
	OptSendTimeout:   {name: "UDT_SNDTIMEO", kind: DurationValue, class: Always},
	OptRecvTimeout:   {name: "UDT_RCVTIMEO", kind: DurationValue, class: Always},
	OptLinger:        {name: "UDT_LINGER", kind: DurationValue, class: Always, engineOpt: engine.OptLinger, owned: true},
	OptMSS:           {name: "UDT_MSS", kind: IntValue, class: PreBind, engineOpt: engine.OptMSS, owned: true},
	OptFlowWindow:    {name: "UDT_FC", kind: IntValue, class: PreConnect, engineOpt: engine.OptFlowWindow, owned: true},
	OptSendBuffer:    {name: "UDT_SNDBUF", kind: IntValue, class: PreBind, engineOpt: engine.OptSendBuffer, owned: true},
	OptRecvBuffer:    {name: "UDT_RCVBUF", kind: IntValue, class: PreBind, engineOpt: engine.OptRecvBuffer, owned: true},
	OptUDPSendBuffer: {name: "UDP_SNDBUF", kind: IntValue, class: PreBind, engineOpt: engine.OptUDPSendBuf, owned: true},
	OptUDPRecvBuffer: {name: "UDP_RCVBUF", kind: IntValue, class: PreBind, engineOpt: engine.OptUDPRecvBuf, owned: true},
	OptReuseAddr:     {name: "UDT_REUSEADDR", kind: BoolValue, class: PreBind, engineOpt: engine.OptReuseAddr, owned: true},
	OptMaxBandwidth:  {name: "UDT_MAXBW", kind: IntValue, class: Always, engineOpt: engine.OptMaxBandwidth, owned: true},
	OptSendData:      {name: "UDT_SNDDATA", kind: IntValue, class: ReadOnly, engineOpt: engine.OptSendData, owned: true},
	OptRecvData:      {name: "UDT_RCVDATA", kind: IntValue, class: ReadOnly, engineOpt: engine.OptRecvData, owned: true},
}

func (o Option) info() (optionInfo, bool) {
	if o < 0 || o >= optionCount {
		return optionInfo{}, false
	}

	return optionTable[o], true
}

// String returns the UDT name of the option.
func (o Option) String() string {
	if info, ok := o.info(); ok {
		return info.name
	}

	return fmt.Sprintf("UDT_OPT(%d)", int(o))
}

// Kind returns the value kind of the option.
func (o Option) Kind() ValueKind {
	info, _ := o.info()
	return info.kind
}

// Class returns the timing class of the option.
func (o Option) Class() Class {
	info, _ := o.info()
	return info.class
}

// Options returns every known option.
func Options() []Option {
	opts := make([]Option, 0, optionCount)
	for o := range optionCount {
		opts = append(opts, o)
	}

	return opts
}

// ParseOption looks up an option by its UDT name, case-insensitively.
func ParseOption(name string) (Option, error) {
	name = strings.TrimSpace(name)
	for o := range optionCount {
		if strings.EqualFold(optionTable[o].name, name) {
			return o, nil
		}
	}

	return 0, newError("parse option", KindInvalidOption, fmt.Sprintf("unknown option %q", name))
}

// normalize checks that value has the Go type of kind and converts it to the canonical
// type: bool, int64 or time.Duration.
func normalize(kind ValueKind, value any) (any, bool) {
	switch kind {
	case BoolValue:
		v, ok := value.(bool)
		return v, ok
	case DurationValue:
		v, ok := value.(time.Duration)
		return v, ok
	case IntValue:
		return toInt64(value)
	default:
		return nil, false
	}
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return uint64ToInt64(uint64(v))
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return uint64ToInt64(v)
	default:
		return 0, false
	}
}

func uint64ToInt64(v uint64) (int64, bool) {
	if v > math.MaxInt64 {
		return 0, false
	}

	return int64(v), true
}

// toEngineValue encodes a normalized value as the engine's int64.
func toEngineValue(value any) int64 {
	switch v := value.(type) {
	case bool:
		if v {
			return 1
		}

		return 0
	case time.Duration:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

func fromEngineValue(kind ValueKind, v int64) any {
	switch kind {
	case BoolValue:
		return v != 0
	case DurationValue:
		return time.Duration(v)
	default:
		return v
	}
}
