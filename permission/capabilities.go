package permission

// orderingFrom derives an Ordering from two one-directional "permits"
// checks, avoiding the need for these permission structs (which embed
// slices) to be comparable with ==: if parent does not permit child,
// they are incomparable; if child also permits parent, they are equal;
// otherwise parent strictly exceeds child.
func orderingFrom(parentPermitsChild, childPermitsParent bool) Ordering {
	if !parentPermitsChild {
		return Incomparable
	}
	if childPermitsParent {
		return Equal
	}
	return Greater
}

// FileSystemPermissions bounds filesystem access. Boolean flags use
// parent >= child; allow-lists use superset; new_dir follows the boolean
// rule.
type FileSystemPermissions struct {
	Read            bool
	Write           bool
	Execute         bool
	AllowedCommands []string // nil = unrestricted
	NewDir          *bool
	AllowedPaths    []string // nil = no path is allowed (fail-closed)
}

func permitsFileSystem(p, c *FileSystemPermissions) bool {
	if c.Read && !p.Read {
		return false
	}
	if c.Write && !p.Write {
		return false
	}
	if c.Execute && !p.Execute {
		return false
	}
	if !optionSubset(p.NewDir, c.NewDir, func(p, c *bool) bool { return *p || !*c }) {
		return false
	}
	if p.AllowedCommands == nil && c.AllowedCommands != nil {
		return false
	}
	if p.AllowedCommands != nil && !vecSuperset(p.AllowedCommands, c.AllowedCommands) {
		return false
	}
	if p.AllowedPaths == nil && c.AllowedPaths != nil {
		return false
	}
	if p.AllowedPaths != nil && !vecSuperset(p.AllowedPaths, c.AllowedPaths) {
		return false
	}
	return true
}

func compareFileSystem(p, c *FileSystemPermissions) Ordering {
	return orderingFrom(permitsFileSystem(p, c), permitsFileSystem(c, p))
}

// RestrictWith intersects two filesystem permissions: booleans AND,
// NewDir only set if both set, allow-lists intersect.
func (p FileSystemPermissions) RestrictWith(r FileSystemPermissions) FileSystemPermissions {
	out := FileSystemPermissions{
		Read:    p.Read && r.Read,
		Write:   p.Write && r.Write,
		Execute: p.Execute && r.Execute,
	}
	if p.NewDir != nil && r.NewDir != nil {
		v := *p.NewDir && *r.NewDir
		out.NewDir = &v
	}
	if cmds, ok := intersectOptions(p.AllowedCommands, r.AllowedCommands); ok {
		out.AllowedCommands = cmds
	}
	if paths, ok := intersectOptions(p.AllowedPaths, r.AllowedPaths); ok {
		out.AllowedPaths = paths
	}
	return out
}

// HttpClientPermissions bounds outbound HTTP. Allow-lists use superset;
// numeric limits use the conventional ceiling comparison.
type HttpClientPermissions struct {
	AllowedMethods []string
	AllowedHosts   []string
	MaxRedirects   *int
	TimeoutMS      *int
}

func permitsHttpClient(p, c *HttpClientPermissions) bool {
	if p.AllowedMethods == nil && c.AllowedMethods != nil {
		return false
	}
	if p.AllowedMethods != nil && !vecSuperset(p.AllowedMethods, c.AllowedMethods) {
		return false
	}
	if p.AllowedHosts == nil && c.AllowedHosts != nil {
		return false
	}
	if p.AllowedHosts != nil && !vecSuperset(p.AllowedHosts, c.AllowedHosts) {
		return false
	}
	if !optionSubset(p.MaxRedirects, c.MaxRedirects, func(p, c *int) bool { return *c <= *p }) {
		return false
	}
	if !optionSubset(p.TimeoutMS, c.TimeoutMS, func(p, c *int) bool { return *c <= *p }) {
		return false
	}
	return true
}

func compareHttpClient(p, c *HttpClientPermissions) Ordering {
	return orderingFrom(permitsHttpClient(p, c), permitsHttpClient(c, p))
}

func (p HttpClientPermissions) RestrictWith(r HttpClientPermissions) HttpClientPermissions {
	out := HttpClientPermissions{}
	if v, ok := intersectOptions(p.AllowedMethods, r.AllowedMethods); ok {
		out.AllowedMethods = v
	}
	if v, ok := intersectOptions(p.AllowedHosts, r.AllowedHosts); ok {
		out.AllowedHosts = v
	}
	out.MaxRedirects = minOptional(p.MaxRedirects, r.MaxRedirects)
	out.TimeoutMS = minOptional(p.TimeoutMS, r.TimeoutMS)
	return out
}

// HttpFrameworkPermissions bounds inbound HTTP server routes.
type HttpFrameworkPermissions struct {
	AllowedRoutes   []string
	AllowedMethods  []string
	MaxRequestSizeB *int
}

func permitsHttpFramework(p, c *HttpFrameworkPermissions) bool {
	if p.AllowedRoutes == nil && c.AllowedRoutes != nil {
		return false
	}
	if p.AllowedRoutes != nil && !vecSuperset(p.AllowedRoutes, c.AllowedRoutes) {
		return false
	}
	if p.AllowedMethods == nil && c.AllowedMethods != nil {
		return false
	}
	if p.AllowedMethods != nil && !vecSuperset(p.AllowedMethods, c.AllowedMethods) {
		return false
	}
	if !optionSubset(p.MaxRequestSizeB, c.MaxRequestSizeB, func(p, c *int) bool { return *c <= *p }) {
		return false
	}
	return true
}

func compareHttpFramework(p, c *HttpFrameworkPermissions) Ordering {
	return orderingFrom(permitsHttpFramework(p, c), permitsHttpFramework(c, p))
}

func (p HttpFrameworkPermissions) RestrictWith(r HttpFrameworkPermissions) HttpFrameworkPermissions {
	out := HttpFrameworkPermissions{}
	if v, ok := intersectOptions(p.AllowedRoutes, r.AllowedRoutes); ok {
		out.AllowedRoutes = v
	}
	if v, ok := intersectOptions(p.AllowedMethods, r.AllowedMethods); ok {
		out.AllowedMethods = v
	}
	out.MaxRequestSizeB = minOptional(p.MaxRequestSizeB, r.MaxRequestSizeB)
	return out
}

// ProcessPermissions bounds subprocess spawning. MaxProcesses and
// MaxOutputBuffer are ceilings: parent >= child must hold, same as any
// other capped numeric field, since a child asking for a higher ceiling
// than its parent was itself granted must be rejected.
type ProcessPermissions struct {
	MaxProcesses     int
	MaxOutputBufferB int
	AllowedPrograms  []string
	AllowedPaths     []string
}

func permitsProcess(p, c *ProcessPermissions) bool {
	if !leNum(p.MaxProcesses, c.MaxProcesses) {
		return false
	}
	if !leNum(p.MaxOutputBufferB, c.MaxOutputBufferB) {
		return false
	}
	if p.AllowedPrograms == nil && c.AllowedPrograms != nil {
		return false
	}
	if p.AllowedPrograms != nil && !vecSuperset(p.AllowedPrograms, c.AllowedPrograms) {
		return false
	}
	if p.AllowedPaths == nil && c.AllowedPaths != nil {
		return false
	}
	if p.AllowedPaths != nil && !vecSuperset(p.AllowedPaths, c.AllowedPaths) {
		return false
	}
	return true
}

func compareProcess(p, c *ProcessPermissions) Ordering {
	return orderingFrom(permitsProcess(p, c), permitsProcess(c, p))
}

func (p ProcessPermissions) RestrictWith(r ProcessPermissions) ProcessPermissions {
	out := ProcessPermissions{
		MaxProcesses:     min(p.MaxProcesses, r.MaxProcesses),
		MaxOutputBufferB: min(p.MaxOutputBufferB, r.MaxOutputBufferB),
	}
	if v, ok := intersectOptions(p.AllowedPrograms, r.AllowedPrograms); ok {
		out.AllowedPrograms = v
	}
	if v, ok := intersectOptions(p.AllowedPaths, r.AllowedPaths); ok {
		out.AllowedPaths = v
	}
	return out
}

// EnvironmentPermissions bounds environment variable access.
// AllowedVars uses superset the same as other allow-lists, but
// DeniedVars *also* uses superset ("parent's deny-list must cover at
// least what the child denies" — a child cannot widen what's denied by
// denying less than its parent).
type EnvironmentPermissions struct {
	AllowedVars     []string
	DeniedVars      []string
	AllowListAll    bool
	AllowedPrefixes []string
}

func permitsEnvironment(p, c *EnvironmentPermissions) bool {
	if p.AllowedVars == nil && c.AllowedVars != nil {
		return false
	}
	if p.AllowedVars != nil && !vecSuperset(p.AllowedVars, c.AllowedVars) {
		return false
	}
	if p.DeniedVars == nil && c.DeniedVars != nil {
		return false
	}
	if p.DeniedVars != nil && !vecSuperset(p.DeniedVars, c.DeniedVars) {
		return false
	}
	if c.AllowListAll && !p.AllowListAll {
		return false
	}
	if p.AllowedPrefixes == nil && c.AllowedPrefixes != nil {
		return false
	}
	if p.AllowedPrefixes != nil && !vecSuperset(p.AllowedPrefixes, c.AllowedPrefixes) {
		return false
	}
	return true
}

func compareEnvironment(p, c *EnvironmentPermissions) Ordering {
	return orderingFrom(permitsEnvironment(p, c), permitsEnvironment(c, p))
}

func (p EnvironmentPermissions) RestrictWith(r EnvironmentPermissions) EnvironmentPermissions {
	out := EnvironmentPermissions{AllowListAll: p.AllowListAll && r.AllowListAll}
	if v, ok := intersectOptions(p.AllowedVars, r.AllowedVars); ok {
		out.AllowedVars = v
	}
	// Deny-lists union under restriction, unlike allow-lists: a
	// restriction can only grow what is denied, never re-admit a
	// variable the parent already denied.
	switch {
	case p.DeniedVars != nil && r.DeniedVars != nil:
		out.DeniedVars = unionDedup(p.DeniedVars, r.DeniedVars)
	case p.DeniedVars != nil:
		out.DeniedVars = append([]string(nil), p.DeniedVars...)
	case r.DeniedVars != nil:
		out.DeniedVars = append([]string(nil), r.DeniedVars...)
	}
	if v, ok := intersectOptions(p.AllowedPrefixes, r.AllowedPrefixes); ok {
		out.AllowedPrefixes = v
	}
	return out
}

// RandomPermissions bounds randomness generation. All fields use parent
// >= child, same rationale as ProcessPermissions: the permission values
// are resource ceilings the child must not exceed, and "exceed" here
// means requesting a larger ceiling than the parent was granted.
type RandomPermissions struct {
	MaxBytes          int
	MaxInt            int64
	AllowCryptoSecure bool
}

func permitsRandom(p, c *RandomPermissions) bool {
	if !leNum(p.MaxBytes, c.MaxBytes) {
		return false
	}
	if !leNum(p.MaxInt, c.MaxInt) {
		return false
	}
	if c.AllowCryptoSecure && !p.AllowCryptoSecure {
		return false
	}
	return true
}

func compareRandom(p, c *RandomPermissions) Ordering {
	return orderingFrom(permitsRandom(p, c), permitsRandom(c, p))
}

func (p RandomPermissions) RestrictWith(r RandomPermissions) RandomPermissions {
	return RandomPermissions{
		MaxBytes:          min(p.MaxBytes, r.MaxBytes),
		MaxInt:            minInt64(p.MaxInt, r.MaxInt),
		AllowCryptoSecure: p.AllowCryptoSecure && r.AllowCryptoSecure,
	}
}

// TimingPermissions bounds sleep/timer durations. MaxSleepDurationMS
// follows the usual ceiling rule (parent >= child). MinSleepDurationMS
// is inverted: it is a *floor* the parent enforces, so a child is only
// permitted if its floor is no lower than the parent's — i.e. the
// comparison is parent.Min <= child.Min, the opposite direction from
// every other numeric field in this package.
type TimingPermissions struct {
	MaxSleepDurationMS int64
	MinSleepDurationMS int64
}

func permitsTiming(p, c *TimingPermissions) bool {
	if !leNum(p.MaxSleepDurationMS, c.MaxSleepDurationMS) {
		return false
	}
	if p.MinSleepDurationMS > c.MinSleepDurationMS {
		return false
	}
	return true
}

func compareTiming(p, c *TimingPermissions) Ordering {
	return orderingFrom(permitsTiming(p, c), permitsTiming(c, p))
}

func (p TimingPermissions) RestrictWith(r TimingPermissions) TimingPermissions {
	return TimingPermissions{
		MaxSleepDurationMS: minInt64(p.MaxSleepDurationMS, r.MaxSleepDurationMS),
		MinSleepDurationMS: maxInt64(p.MinSleepDurationMS, r.MinSleepDurationMS),
	}
}

// Marker capabilities carry no configuration of their own: presence
// (Some) grants the capability, absence (None) denies it. Their
// comparison is trivially Equal whenever both are present.
type (
	MessageServerPermissions struct{}
	RuntimePermissions       struct{}
	SupervisorPermissions    struct{}
	StorePermissions         struct{}
)

// unionDedup merges two string sets, preserving first-seen order.
func unionDedup(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
