package main

import (
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-udt/udt"
)

// loadOptionFile reads a YAML map of option names to values, for example:
//
//	UDT_MSS: 1400
//	UDT_SNDBUF: 16MiB
//	UDT_LINGER: 5s
//	UDT_REUSEADDR: false
func loadOptionFile(path string) (map[udt.Option]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parseOptions(data)
}

func parseOptions(data []byte) (map[udt.Option]any, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}

	opts := make(map[udt.Option]any, len(raw))
	for name, val := range raw {
		opt, err := udt.ParseOption(name)
		if err != nil {
			return nil, err
		}

		v, err := optionValue(opt, val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opt, err)
		}
		opts[opt] = v
	}

	return opts, nil
}

// optionValue converts a decoded YAML scalar to the Go type of opt. Integers accept human
// sizes such as "64KiB"; durations accept "250ms" or a plain number of milliseconds.
func optionValue(opt udt.Option, val any) (any, error) {
	switch opt.Kind() {
	case udt.BoolValue:
		if b, ok := val.(bool); ok {
			return b, nil
		}
	case udt.IntValue:
		switch v := val.(type) {
		case int:
			return v, nil
		case string:
			return units.RAMInBytes(v)
		}
	case udt.DurationValue:
		switch v := val.(type) {
		case int:
			return time.Duration(v) * time.Millisecond, nil
		case string:
			return time.ParseDuration(v)
		}
	}

	return nil, fmt.Errorf("unexpected %s value %v", opt.Kind(), val)
}
