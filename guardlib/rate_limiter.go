package guardlib

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Names of the built-in limiter classes.
const (
	ClassGeneral = "general"
	ClassAuth    = "auth"
	ClassSignup  = "signup"
)

// LimiterClass is a named fixed window policy.
type LimiterClass struct {
	Name   string
	Max    int64
	Window time.Duration

	// Prefixes are path prefixes this class applies to. The general class
	// applies to every request and ignores prefixes.
	Prefixes []string
}

// DefaultLimiterClasses returns general, auth and signup classes. Signup
// has the smallest budget over the longest window.
func DefaultLimiterClasses() []LimiterClass {
	return []LimiterClass{
		{
			Name:   ClassGeneral,
			Max:    100,
			Window: 15 * time.Minute,
		},
		{
			Name:     ClassAuth,
			Max:      5,
			Window:   15 * time.Minute,
			Prefixes: []string{"/auth/signin", "/auth/signout"},
		},
		{
			Name:     ClassSignup,
			Max:      3,
			Window:   time.Hour,
			Prefixes: []string{"/auth/signup"},
		},
	}
}

// SpeedPolicy defines a progressive delay. A delay grows linearly with the
// number of requests within a window above a free quota and is clamped by
// MaxDelay.
type SpeedPolicy struct {
	Window    time.Duration
	FreeQuota int64
	Increment time.Duration
	MaxDelay  time.Duration

	// Paths with these prefixes or suffixes are not slowed down.
	SkipPrefixes []string
	SkipSuffixes []string
}

// DefaultSpeedPolicy returns a policy which starts to slow clients down
// after 50 requests in 15 minutes.
func DefaultSpeedPolicy() SpeedPolicy {
	return SpeedPolicy{
		Window:       15 * time.Minute,
		FreeQuota:    50,
		Increment:    100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		SkipPrefixes: []string{"/static/", "/assets/"},
		SkipSuffixes: []string{
			".css", ".js", ".map", ".png", ".jpg", ".jpeg", ".gif",
			".svg", ".ico", ".woff", ".woff2",
		},
	}
}

// Delay returns a delay for a request which is seen-th in the window.
func (s SpeedPolicy) Delay(seen int64) time.Duration {
	over := seen - s.FreeQuota
	if over <= 0 {
		return 0
	}

	if s.Increment > 0 && over > int64(s.MaxDelay/s.Increment) {
		return s.MaxDelay
	}

	delay := time.Duration(over) * s.Increment
	if delay > s.MaxDelay {
		return s.MaxDelay
	}

	return delay
}

// Skips reports if a path is excluded from slowing down.
func (s SpeedPolicy) Skips(path string) bool {
	for _, prefix := range s.SkipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	lowered := strings.ToLower(path)

	for _, suffix := range s.SkipSuffixes {
		if strings.HasSuffix(lowered, suffix) {
			return true
		}
	}

	return false
}

// RateDecision is a result of admission.
type RateDecision struct {
	Allowed bool
	Class   string
	Count   int64
	Max     int64

	// RetryAfter is set for rejected requests; it is always positive and
	// rounded up to whole seconds.
	RetryAfter time.Duration
	ResetAt    time.Time
}

type classRoute struct {
	prefix string
	class  string
}

// RateController counts requests per (client, class) in fixed windows and
// computes progressive delays. All state lives in a RateStore.
type RateController struct {
	store   RateStore
	classes map[string]LimiterClass
	routes  []classRoute
	speed   *SpeedPolicy
	now     func() time.Time
}

// ClassFor returns a route-specific class for a path. The longest prefix
// wins.
func (r *RateController) ClassFor(path string) (LimiterClass, bool) {
	for _, route := range r.routes {
		if strings.HasPrefix(path, route.prefix) {
			return r.classes[route.class], true
		}
	}

	return LimiterClass{}, false
}

// Admit counts a request of the client against a class. A missing client
// identifier falls back to the shared bucket.
func (r *RateController) Admit(ctx context.Context, clientKey, className string) (RateDecision, error) {
	class, ok := r.classes[className]
	if !ok {
		return RateDecision{}, fmt.Errorf("unknown limiter class %s", className)
	}

	if clientKey == "" {
		clientKey = UnknownClientKey
	}

	window, err := r.store.Take(ctx, rateKey(class.Name, clientKey), class.Window, class.Max)
	if err != nil {
		return RateDecision{}, fmt.Errorf("cannot count a request: %w", err)
	}

	decision := RateDecision{
		Allowed: window.Allowed,
		Class:   class.Name,
		Count:   window.Count,
		Max:     class.Max,
		ResetAt: window.ResetAt(class.Window),
	}

	if !decision.Allowed {
		decision.RetryAfter = retryAfter(decision.ResetAt.Sub(r.now()))
	}

	return decision, nil
}

// Status returns a state of a client window without counting a hit.
func (r *RateController) Status(ctx context.Context, clientKey, className string) (RateDecision, error) {
	class, ok := r.classes[className]
	if !ok {
		return RateDecision{}, fmt.Errorf("unknown limiter class %s", className)
	}

	if clientKey == "" {
		clientKey = UnknownClientKey
	}

	window, err := r.store.Peek(ctx, rateKey(class.Name, clientKey), class.Window)
	if err != nil {
		return RateDecision{}, fmt.Errorf("cannot read a window: %w", err)
	}

	decision := RateDecision{
		Allowed: window.Count < class.Max,
		Class:   class.Name,
		Count:   window.Count,
		Max:     class.Max,
	}

	if window.Count > 0 {
		decision.ResetAt = window.ResetAt(class.Window)
	}

	if !decision.Allowed {
		decision.RetryAfter = retryAfter(decision.ResetAt.Sub(r.now()))
	}

	return decision, nil
}

// Reset drops client windows of given classes and a speed window. No
// classes means all of them.
func (r *RateController) Reset(ctx context.Context, clientKey string, classNames ...string) error {
	if clientKey == "" {
		clientKey = UnknownClientKey
	}

	if len(classNames) == 0 {
		classNames = r.ClassNames()
	}

	keys := make([]string, 0, len(classNames)+1)

	for _, name := range classNames {
		if _, ok := r.classes[name]; !ok {
			return fmt.Errorf("unknown limiter class %s", name)
		}

		keys = append(keys, rateKey(name, clientKey))
	}

	if r.speed != nil {
		keys = append(keys, speedKey(clientKey))
	}

	for _, key := range keys {
		if err := r.store.Reset(ctx, key); err != nil {
			return fmt.Errorf("cannot reset %s: %w", key, err)
		}
	}

	return nil
}

// ClassNames returns sorted names of known classes.
func (r *RateController) ClassNames() []string {
	names := make([]string, 0, len(r.classes))

	for name := range r.classes {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// DelayFor returns a delay the caller has to apply before proceeding and
// a number of requests seen in the speed window.
func (r *RateController) DelayFor(ctx context.Context, clientKey, path string) (time.Duration, int64, error) {
	if r.speed == nil || r.speed.Skips(path) {
		return 0, 0, nil
	}

	if clientKey == "" {
		clientKey = UnknownClientKey
	}

	window, err := r.store.Take(ctx, speedKey(clientKey), r.speed.Window, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("cannot count a request: %w", err)
	}

	return r.speed.Delay(window.Count), window.Count, nil
}

func rateKey(class, clientKey string) string {
	return "rate:" + class + ":" + clientKey
}

func speedKey(clientKey string) string {
	return "speed:" + clientKey
}

func retryAfter(left time.Duration) time.Duration {
	if left < time.Second {
		return time.Second
	}

	return (left + time.Second - 1).Truncate(time.Second)
}

// NewRateController builds a controller. A class named ClassGeneral is
// mandatory. speed may be nil to disable slowing down.
func NewRateController(store RateStore, classes []LimiterClass, speed *SpeedPolicy,
	now func() time.Time,
) (*RateController, error) {
	if store == nil {
		return nil, ErrRateStoreIsNotDefined
	}

	if now == nil {
		now = time.Now
	}

	ctrl := &RateController{
		store:   store,
		classes: make(map[string]LimiterClass, len(classes)),
		speed:   speed,
		now:     now,
	}

	for _, class := range classes {
		if class.Name == "" || class.Max <= 0 || class.Window <= 0 {
			return nil, fmt.Errorf("limiter class %q must have positive max and window", class.Name)
		}

		if _, ok := ctrl.classes[class.Name]; ok {
			return nil, fmt.Errorf("limiter class %q is defined twice", class.Name)
		}

		ctrl.classes[class.Name] = class

		if class.Name == ClassGeneral {
			continue
		}

		for _, prefix := range class.Prefixes {
			ctrl.routes = append(ctrl.routes, classRoute{
				prefix: prefix,
				class:  class.Name,
			})
		}
	}

	if _, ok := ctrl.classes[ClassGeneral]; !ok {
		return nil, fmt.Errorf("limiter class %q is required", ClassGeneral)
	}

	sort.SliceStable(ctrl.routes, func(i, j int) bool {
		return len(ctrl.routes[i].prefix) > len(ctrl.routes[j].prefix)
	})

	if speed != nil && (speed.Window <= 0 || speed.MaxDelay < 0 || speed.Increment < 0) {
		return nil, fmt.Errorf("speed policy must have positive window")
	}

	return ctrl, nil
}
