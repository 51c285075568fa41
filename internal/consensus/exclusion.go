package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"secmaster/internal/logger"
	"secmaster/internal/store"
	"secmaster/internal/types"
)

// DefaultConsensusVendor is the vendor name consensus rows are written under.
const DefaultConsensusVendor = "pySecMaster_Consensus"

// VendorResolver is the name→id lookup the resolver needs.
type VendorResolver interface {
	ResolveID(ctx context.Context, name string) (types.SourceID, error)
}

// ResolveExclusions maps vendor names to the set of ids that must not vote.
// Names that are not registered yet are returned in unresolved and skipped;
// any other lookup failure is returned as an error.
func ResolveExclusions(ctx context.Context, vendors VendorResolver, names []string) (types.SourceSet, []string, error) {
	set := types.NewSourceSet()
	var unresolved []string
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		id, err := vendors.ResolveID(ctx, name)
		if err != nil {
			if errors.Is(err, store.ErrVendorNotFound) {
				logger.Warnf("exclusion: vendor %q is not registered yet, skipped", name)
				unresolved = append(unresolved, name)
				continue
			}
			return nil, unresolved, fmt.Errorf("resolve excluded vendor %q: %w", name, err)
		}
		set.Add(id)
	}
	return set, unresolved, nil
}

// exclusionNames returns configured names with the consensus vendor always included.
func exclusionNames(consensusVendor string, configured []string) []string {
	out := make([]string, 0, len(configured)+1)
	out = append(out, consensusVendor)
	out = append(out, configured...)
	return out
}
