package push

import (
	"fmt"
	"strings"
)

// Family captures the behavior that differs between platform families.
type Family interface {
	Name() string
	// SupportsBadges reports whether the OS keeps an application badge count.
	SupportsBadges() bool
	// SupportsCategories reports whether notification categories with
	// quick actions can be declared.
	SupportsCategories() bool
	// ForwardOnOpen decides whether an opened notification reaches the
	// application callback given the current lifecycle state.
	ForwardOnOpen(backgrounded bool) bool
}

// Family names accepted by LookupFamily.
const (
	FamilyApple   = "apple"
	FamilyAndroid = "android"
)

type appleFamily struct{}

func (appleFamily) Name() string             { return FamilyApple }
func (appleFamily) SupportsBadges() bool     { return true }
func (appleFamily) SupportsCategories() bool { return true }

// Opening a notification while the app is active is already handled by the
// in-app presentation path.
func (appleFamily) ForwardOnOpen(backgrounded bool) bool { return backgrounded }

type androidFamily struct{}

func (androidFamily) Name() string              { return FamilyAndroid }
func (androidFamily) SupportsBadges() bool      { return false }
func (androidFamily) SupportsCategories() bool  { return false }
func (androidFamily) ForwardOnOpen(_ bool) bool { return true }

// Apple returns the family used by iOS, iPadOS and macOS devices.
func Apple() Family { return appleFamily{} }

// Android returns the family used by Android devices.
func Android() Family { return androidFamily{} }

// LookupFamily maps a platform descriptor such as "ios" or "android" to its family.
func LookupFamily(platform string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "ios", "ipados", "macos", "apple", "apns":
		return Apple(), nil
	case "android", "fcm":
		return Android(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, platform)
	}
}
