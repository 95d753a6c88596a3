package service

import (
	"fmt"

	"device-sync-server/internal/domain"
)

// MergeFallback decides what the merge strategy does when the two values are
// not both arrays or both objects.
type MergeFallback string

const (
	MergeFallbackPreferRemote MergeFallback = "prefer_remote"
	MergeFallbackReject       MergeFallback = "reject"
)

func ParseMergeFallback(s string) (MergeFallback, error) {
	switch MergeFallback(s) {
	case "", MergeFallbackPreferRemote:
		return MergeFallbackPreferRemote, nil
	case MergeFallbackReject:
		return MergeFallbackReject, nil
	}
	return "", fmt.Errorf("unknown merge fallback %q", s)
}

// ApplyStrategy computes the resolved value of a conflicting field using the
// default merge fallback (prefer remote). It has no side effects.
func ApplyStrategy(local, remote domain.Value, strategy domain.MergeStrategy) (domain.Value, error) {
	return applyStrategy(local, remote, strategy, MergeFallbackPreferRemote)
}

func applyStrategy(local, remote domain.Value, strategy domain.MergeStrategy, fallback MergeFallback) (domain.Value, error) {
	switch strategy {
	case domain.StrategyPreferLocal:
		return local, nil
	case domain.StrategyPreferRemote:
		return remote, nil
	case domain.StrategyMerge:
		return mergeValues(local, remote, fallback)
	case domain.StrategyManual, domain.StrategyPrompt:
		return domain.Value{}, fmt.Errorf("%w: %s", ErrNotAutoResolvable, strategy)
	default:
		return domain.Value{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

func mergeValues(local, remote domain.Value, fallback MergeFallback) (domain.Value, error) {
	switch {
	case local.Kind() == domain.KindArray && remote.Kind() == domain.KindArray:
		return unionArrays(local.Items(), remote.Items()), nil

	case local.Kind() == domain.KindObject && remote.Kind() == domain.KindObject:
		merged := local.Fields()
		for k, v := range remote.Fields() {
			merged[k] = v
		}
		return domain.Object(merged), nil
	}

	if fallback == MergeFallbackReject {
		return domain.Value{}, fmt.Errorf("%w: got %s and %s", ErrMergeTypeMismatch, local.Kind(), remote.Kind())
	}
	return remote, nil
}

// unionArrays keeps the first occurrence of each element, local items first.
func unionArrays(local, remote []domain.Value) domain.Value {
	out := make([]domain.Value, 0, len(local)+len(remote))
	for _, candidate := range append(local, remote...) {
		seen := false
		for _, kept := range out {
			if kept.Equal(candidate) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, candidate)
		}
	}
	return domain.Array(out...)
}
