package udt

import (
	"fmt"
	"time"
)

// SetOption writes an option. value must have the Go type of the option kind: bool,
// any integer type, or time.Duration.
//
// It fails with ErrInvalidOption for an unknown option, ErrInvalidValue for a value of the
// wrong type or out of range, and ErrInvalidState when the option class forbids the write
// in the current status.
func (s *Socket) SetOption(opt Option, value any) error {
	info, ok := opt.info()
	if !ok {
		return newError(opSetOpt, KindInvalidOption, opt.String())
	}
	if s.closed.Load() {
		return s.closedError(opSetOpt)
	}
	if info.class == ReadOnly {
		return newError(opSetOpt, KindInvalidState, info.name+" is read-only")
	}

	v, ok := normalize(info.kind, value)
	if !ok {
		return newError(opSetOpt, KindInvalidValue, fmt.Sprintf("%s takes a %s value, got %T", info.name, info.kind, value))
	}

	if err := s.checkClass(opt, info.class); err != nil {
		return err
	}

	if info.owned {
		if _, err := s.eng.SetOption(s.handle, info.engineOpt, toEngineValue(v)); err != nil {
			return s.settle(opSetOpt, err)
		}
		s.logger.Debug("option set", "option", info.name, "value", v)

		return nil
	}

	switch opt {
	case OptSendSync:
		s.sendSync.Store(v.(bool))
	case OptRecvSync:
		s.recvSync.Store(v.(bool))
	case OptSendTimeout, OptRecvTimeout:
		d := v.(time.Duration)
		if d < 0 {
			return newError(opSetOpt, KindInvalidValue, info.name+" must not be negative")
		}
		if opt == OptSendTimeout {
			s.sendTimeout.Store(int64(d))
		} else {
			s.recvTimeout.Store(int64(d))
		}
	}
	s.logger.Debug("option set", "option", info.name, "value", v)

	return nil
}

func (s *Socket) checkClass(opt Option, class Class) error {
	st := s.Status()

	switch class {
	case PreBind:
		if st != StatusInit {
			return newError(opSetOpt, KindInvalidState, opt.String()+" must be set before bind, socket is "+st.String())
		}
	case PreConnect:
		if st != StatusInit && st != StatusOpened && st != StatusListening {
			return newError(opSetOpt, KindInvalidState, opt.String()+" must be set before connect, socket is "+st.String())
		}
	}

	return nil
}

// GetOption reads an option. The value is a bool, an int64 or a time.Duration depending
// on the option kind. After Close it reports the values the socket had when it was closed.
func (s *Socket) GetOption(opt Option) (any, error) {
	info, ok := opt.info()
	if !ok {
		return nil, newError(opGetOpt, KindInvalidOption, opt.String())
	}

	if s.closed.Load() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if v, ok := s.snapshot[opt]; ok {
			return v, nil
		}
	}

	return s.readOption(opt, info)
}

func (s *Socket) readOption(opt Option, info optionInfo) (any, error) {
	switch opt {
	case OptMessageMode:
		return s.mode == Message, nil
	case OptIPv6:
		return s.family == IPv6, nil
	case OptSendSync:
		return s.sendSync.Load(), nil
	case OptRecvSync:
		return s.recvSync.Load(), nil
	case OptSendTimeout:
		return time.Duration(s.sendTimeout.Load()), nil
	case OptRecvTimeout:
		return time.Duration(s.recvTimeout.Load()), nil
	}

	v, err := s.eng.GetOption(s.handle, info.engineOpt)
	if err != nil {
		return nil, s.settle(opGetOpt, err)
	}

	return fromEngineValue(info.kind, v), nil
}

// takeSnapshot records every option value so GetOption keeps answering after Close.
// Live counters read as zero.
func (s *Socket) takeSnapshot() {
	snapshot := make(map[Option]any, optionCount)
	for _, opt := range Options() {
		info := optionTable[opt]
		if opt == OptSendData || opt == OptRecvData {
			snapshot[opt] = int64(0)
			continue
		}
		if v, err := s.readOption(opt, info); err == nil {
			snapshot[opt] = v
		}
	}

	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()
}

// BoolOption reads a bool option.
func (s *Socket) BoolOption(opt Option) (bool, error) {
	v, err := s.typedOption(opt, BoolValue)
	if err != nil {
		return false, err
	}

	return v.(bool), nil
}

// IntOption reads an int option.
func (s *Socket) IntOption(opt Option) (int64, error) {
	v, err := s.typedOption(opt, IntValue)
	if err != nil {
		return 0, err
	}

	return v.(int64), nil
}

// DurationOption reads a duration option.
func (s *Socket) DurationOption(opt Option) (time.Duration, error) {
	v, err := s.typedOption(opt, DurationValue)
	if err != nil {
		return 0, err
	}

	return v.(time.Duration), nil
}

func (s *Socket) typedOption(opt Option, kind ValueKind) (any, error) {
	if info, ok := opt.info(); ok && info.kind != kind {
		return nil, newError(opGetOpt, KindInvalidOption, fmt.Sprintf("%s is a %s option", info.name, info.kind))
	}

	return s.GetOption(opt)
}
