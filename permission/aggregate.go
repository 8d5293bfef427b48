package permission

// HandlerPermission aggregates every per-capability permission record.
// A nil field means that capability is denied outright; a non-nil field
// grants it, narrowed by the per-field comparison/restriction rules in
// capabilities.go.
type HandlerPermission struct {
	FileSystem    *FileSystemPermissions
	HTTPClient    *HttpClientPermissions
	HTTPFramework *HttpFrameworkPermissions
	Process       *ProcessPermissions
	Environment   *EnvironmentPermissions
	Random        *RandomPermissions
	Timing        *TimingPermissions

	MessageServer *MessageServerPermissions
	Runtime       *RuntimePermissions
	Supervisor    *SupervisorPermissions
	Store         *StorePermissions
}

// Root returns the fully permissive HandlerPermission granted to a
// top-level actor with no parent, matching
// _examples/original_source/crates/theater/src/config/permissions.rs's
// HandlerPermission::root().
func Root() *HandlerPermission {
	return &HandlerPermission{
		FileSystem: &FileSystemPermissions{
			Read: true, Write: true, Execute: true,
			NewDir:       boolPtr(true),
			AllowedPaths: []string{"/"},
		},
		HTTPClient:    &HttpClientPermissions{},
		HTTPFramework: &HttpFrameworkPermissions{},
		Process: &ProcessPermissions{
			MaxProcesses:     maxInt,
			MaxOutputBufferB: maxInt,
		},
		Environment: &EnvironmentPermissions{AllowListAll: true},
		Random: &RandomPermissions{
			MaxBytes:          maxInt,
			MaxInt:            maxInt64Val,
			AllowCryptoSecure: true,
		},
		Timing: &TimingPermissions{
			MaxSleepDurationMS: maxInt64Val,
			MinSleepDurationMS: 0,
		},
		MessageServer: &MessageServerPermissions{},
		Runtime:       &RuntimePermissions{},
		Supervisor:    &SupervisorPermissions{},
		Store:         &StorePermissions{},
	}
}

const maxInt = int(^uint(0) >> 1)
const maxInt64Val = int64(^uint64(0) >> 1)

func boolPtr(b bool) *bool { return &b }

// Compare returns how parent and child relate in the lattice.
func Compare(parent, child *HandlerPermission) Ordering {
	return orderingFromFields(parent, child)
}

func orderingFromFields(parent, child *HandlerPermission) Ordering {
	fields := []Ordering{
		optionSubsetOrdering(parent.FileSystem, child.FileSystem, compareFileSystem),
		optionSubsetOrdering(parent.HTTPClient, child.HTTPClient, compareHttpClient),
		optionSubsetOrdering(parent.HTTPFramework, child.HTTPFramework, compareHttpFramework),
		optionSubsetOrdering(parent.Process, child.Process, compareProcess),
		optionSubsetOrdering(parent.Environment, child.Environment, compareEnvironment),
		optionSubsetOrdering(parent.Random, child.Random, compareRandom),
		optionSubsetOrdering(parent.Timing, child.Timing, compareTiming),
		optionSubsetOrdering(parent.MessageServer, child.MessageServer, func(p, c *MessageServerPermissions) Ordering { return Equal }),
		optionSubsetOrdering(parent.Runtime, child.Runtime, func(p, c *RuntimePermissions) Ordering { return Equal }),
		optionSubsetOrdering(parent.Supervisor, child.Supervisor, func(p, c *SupervisorPermissions) Ordering { return Equal }),
		optionSubsetOrdering(parent.Store, child.Store, func(p, c *StorePermissions) Ordering { return Equal }),
	}

	allEqual := true
	for _, o := range fields {
		if o == Incomparable {
			return Incomparable
		}
		if o != Equal {
			allEqual = false
		}
	}
	if allEqual {
		return Equal
	}
	return Greater
}

func compareHandlerPermission(parent, child *HandlerPermission) Ordering {
	return orderingFromFields(parent, child)
}

// optionSubsetOrdering applies the None/Some rules that govern every
// optional capability: both None is Equal, child Some with parent None
// is Incomparable, parent Some with child None is Greater (parent simply
// isn't exercising the extra authority), and Some/Some defers to cmp.
func optionSubsetOrdering[T any](parent, child *T, cmp func(p, c *T) Ordering) Ordering {
	switch {
	case parent == nil && child == nil:
		return Equal
	case parent == nil:
		return Incomparable
	case child == nil:
		return Greater
	default:
		return cmp(parent, child)
	}
}

// RestrictWith intersects parent with a restriction record per
// capability, used by the Restrict inheritance policy.
func (p HandlerPermission) RestrictWith(r HandlerPermission) HandlerPermission {
	return HandlerPermission{
		FileSystem:    restrictField(p.FileSystem, r.FileSystem, FileSystemPermissions.RestrictWith),
		HTTPClient:    restrictField(p.HTTPClient, r.HTTPClient, HttpClientPermissions.RestrictWith),
		HTTPFramework: restrictField(p.HTTPFramework, r.HTTPFramework, HttpFrameworkPermissions.RestrictWith),
		Process:       restrictField(p.Process, r.Process, ProcessPermissions.RestrictWith),
		Environment:   restrictField(p.Environment, r.Environment, EnvironmentPermissions.RestrictWith),
		Random:        restrictField(p.Random, r.Random, RandomPermissions.RestrictWith),
		Timing:        restrictField(p.Timing, r.Timing, TimingPermissions.RestrictWith),
		MessageServer: p.MessageServer,
		Runtime:       p.Runtime,
		Supervisor:    p.Supervisor,
		Store:         p.Store,
	}
}

func restrictField[T any](parent, restrict *T, fn func(T, T) T) *T {
	if parent == nil {
		return nil
	}
	if restrict == nil {
		return parent
	}
	v := fn(*parent, *restrict)
	return &v
}
