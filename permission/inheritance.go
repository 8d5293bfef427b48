package permission

// InheritanceKind selects how a capability propagates from a parent's
// permission set into a child's effective permission set.
//
// Grounded on
// _examples/original_source/crates/theater/src/config/inheritance.rs's
// HandlerInheritance<T> enum.
type InheritanceKind string

const (
	Inherit  InheritanceKind = "inherit"
	Disallow InheritanceKind = "disallow"
	Restrict InheritanceKind = "restrict"
)

// Inheritance is one capability's inheritance policy: Kind selects the
// behavior, and Config carries the restriction record when Kind is
// Restrict (nil otherwise).
type Inheritance[T any] struct {
	Kind   InheritanceKind
	Config *T
}

// apply computes the effective capability given the parent's capability
// and this policy, matching apply_inheritance_policy in inheritance.rs.
func apply[T any](parent *T, policy Inheritance[T], restrictWith func(parent, r T) T) *T {
	switch policy.Kind {
	case Disallow:
		return nil
	case Restrict:
		if parent == nil || policy.Config == nil {
			return nil
		}
		v := restrictWith(*parent, *policy.Config)
		return &v
	default: // Inherit, or zero value defaulting to Inherit
		return parent
	}
}

// Policy carries one Inheritance[T] per capability. The zero value of
// Policy is "inherit everything", matching the Rust #[derive(Default)]
// behavior where every field defaults to HandlerInheritance::Inherit.
type Policy struct {
	FileSystem    Inheritance[FileSystemPermissions]
	HTTPClient    Inheritance[HttpClientPermissions]
	HTTPFramework Inheritance[HttpFrameworkPermissions]
	Process       Inheritance[ProcessPermissions]
	Environment   Inheritance[EnvironmentPermissions]
	Random        Inheritance[RandomPermissions]
	Timing        Inheritance[TimingPermissions]

	MessageServer Inheritance[MessageServerPermissions]
	Runtime       Inheritance[RuntimePermissions]
	Supervisor    Inheritance[SupervisorPermissions]
	Store         Inheritance[StorePermissions]
}

// IsDefault reports whether every field of the policy is Inherit (the
// zero value).
func (p Policy) IsDefault() bool {
	zero := Policy{}
	return p == zero
}

// CalculateEffective computes a child's effective HandlerPermission from
// its parent's granted permission and this policy, applying each
// capability's own inheritance rule independently.
func CalculateEffective(parent *HandlerPermission, policy Policy) *HandlerPermission {
	return &HandlerPermission{
		FileSystem:    apply(parent.FileSystem, policy.FileSystem, FileSystemPermissions.RestrictWith),
		HTTPClient:    apply(parent.HTTPClient, policy.HTTPClient, HttpClientPermissions.RestrictWith),
		HTTPFramework: apply(parent.HTTPFramework, policy.HTTPFramework, HttpFrameworkPermissions.RestrictWith),
		Process:       apply(parent.Process, policy.Process, ProcessPermissions.RestrictWith),
		Environment:   apply(parent.Environment, policy.Environment, EnvironmentPermissions.RestrictWith),
		Random:        apply(parent.Random, policy.Random, RandomPermissions.RestrictWith),
		Timing:        apply(parent.Timing, policy.Timing, TimingPermissions.RestrictWith),
		MessageServer: applyMarker(parent.MessageServer, policy.MessageServer),
		Runtime:       applyMarker(parent.Runtime, policy.Runtime),
		Supervisor:    applyMarker(parent.Supervisor, policy.Supervisor),
		Store:         applyMarker(parent.Store, policy.Store),
	}
}

// applyMarker applies Inherit/Disallow/Restrict to a marker capability.
// Restrict on a marker is equivalent to Inherit: there is no narrower
// configuration a marker capability could carry.
func applyMarker[T any](parent *T, policy Inheritance[T]) *T {
	if policy.Kind == Disallow {
		return nil
	}
	return parent
}
