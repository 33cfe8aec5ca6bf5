package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danmuck/vectord/internal/worker"
)

var errNoSelection = errors.New("pass --payloads or --all")

func parseIndexID(raw string) (worker.IndexID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid index id %q: %w", raw, err)
	}
	return worker.IndexID(id), nil
}

func parseVector(raw string) ([]float32, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("vector is required")
	}
	parts := strings.Split(raw, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		out = append(out, float32(val))
	}
	return out, nil
}

func parsePayloads(raw string) (map[worker.Payload]struct{}, error) {
	out := make(map[worker.Payload]struct{})
	for part := range strings.SplitSeq(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid payload %q: %w", part, err)
		}
		out[worker.Payload(p)] = struct{}{}
	}
	return out, nil
}

// payloadMatcher answers delete callbacks for the selected payloads.
func payloadMatcher(raw string, all bool) (func(worker.Payload) bool, error) {
	if all {
		return func(worker.Payload) bool { return true }, nil
	}
	set, err := parsePayloads(raw)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, errNoSelection
	}
	return func(p worker.Payload) bool {
		_, ok := set[p]
		return ok
	}, nil
}
