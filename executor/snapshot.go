package executor

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nixval/declarch/core"
	"github.com/nixval/declarch/manager"
)

// BuildSnapshot lists installed packages across every given backend in
// parallel on a bounded worker pool and merges the results keyed by
// PackageId. Unavailable backends are skipped with a warning; individual
// failures become warnings, and only the case where every targeted backend
// failed is an error.
func BuildSnapshot(managers map[string]*manager.GenericManager) (core.Snapshot, []string, error) {
	snapshot := core.Snapshot{}
	var warnings []string
	if len(managers) == 0 {
		return snapshot, warnings, nil
	}

	names := make([]string, 0, len(managers))
	for name := range managers {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	var attempted, failed int
	var group errgroup.Group
	group.SetLimit(max(2, runtime.NumCPU()))

	for _, name := range names {
		mgr := managers[name]
		if !mgr.IsAvailable() {
			warnings = append(warnings, fmt.Sprintf("backend '%s' is not available on this system, skipping", name))
			logrus.WithField("backend", name).Warn("backend unavailable, skipping listing")
			continue
		}
		attempted++
		name := name
		group.Go(func() error {
			installed, err := mgr.ListInstalled()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				warnings = append(warnings, fmt.Sprintf("listing '%s' failed: %v", name, err))
				logrus.WithField("backend", name).WithError(err).Warn("listing failed")
				return nil
			}
			for pkgName, meta := range installed {
				snapshot[core.NewPackageId(name, pkgName)] = meta
			}
			return nil
		})
	}
	_ = group.Wait()

	if attempted > 0 && failed == attempted {
		return nil, warnings, fmt.Errorf("listing failed for every targeted backend")
	}
	return snapshot, warnings, nil
}
