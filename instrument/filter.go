package instrument

import (
	"strings"

	"github.com/chazu/weave/pkg/trace"
)

// Filter decides which units are left alone. It is consulted once per
// unit, before any rewrite work.
type Filter interface {
	IsExcluded(unitName string) bool
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(unitName string) bool

func (f FilterFunc) IsExcluded(unitName string) bool { return f(unitName) }

// DefaultBlacklist lists platform units whose instrumentation would
// recurse into the sink or break bootstrapping. Names match by substring.
var DefaultBlacklist = []string{
	"java/lang/Object",
	"java/lang/Class",
	"java/lang/ClassLoader",
	"java/lang/Thread",
	"java/lang/invoke",
	"java/security/AccessControlContext",
	trace.Owner,
	"java/util/AbstractCollection",
	"java/util/AbstractList",
	"java/util/HashMap",
	"java/util/Vector",
	"java/util/LinkedList$ListItr",
	"java/lang/Shutdown",
	"java/lang/System",
	"java/lang/String",
	"java/lang/Float",
	"java/lang/ref",
	"sun/nio/cs",
	"java/io/File",
	"java/io/FileOutputStream",
	"java/io/PrintStream",
	"java/util/Hashtable",
	"sun/util/PreHashedMap",
	"sun/launcher/",
}

// BlacklistFilter excludes every unit whose name contains one of its
// patterns.
type BlacklistFilter struct {
	patterns []string
}

// NewBlacklistFilter returns a filter over DefaultBlacklist and extra.
func NewBlacklistFilter(extra ...string) *BlacklistFilter {
	patterns := make([]string, 0, len(DefaultBlacklist)+len(extra))
	patterns = append(patterns, DefaultBlacklist...)
	patterns = append(patterns, extra...)
	return &BlacklistFilter{patterns: patterns}
}

func (f *BlacklistFilter) IsExcluded(unitName string) bool {
	for _, p := range f.patterns {
		if strings.Contains(unitName, p) {
			return true
		}
	}
	return false
}
