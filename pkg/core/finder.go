package core

import "fmt"

// FinderKind identifies which discriminant of a Finder is set.
type FinderKind int

const (
	// FinderInvalid means zero or more than one discriminant is set.
	FinderInvalid FinderKind = iota
	// FinderText matches by visible text or display label (substring).
	FinderText
	// FinderAccessibilityID matches by platform-native accessibility id.
	FinderAccessibilityID
	// FinderWidgetKey matches by the opaque stable key the application
	// assigned to the widget.
	FinderWidgetKey
	// FinderWidgetType matches by application-level widget type name.
	FinderWidgetType
)

// String returns the string representation of FinderKind.
func (k FinderKind) String() string {
	switch k {
	case FinderText:
		return "text"
	case FinderAccessibilityID:
		return "accessibilityId"
	case FinderWidgetKey:
		return "widgetKey"
	case FinderWidgetType:
		return "widgetType"
	default:
		return "invalid"
	}
}

// Finder identifies a UI element by exactly one discriminant.
// A finder with zero or multiple discriminants set is a validation error,
// not a backend error.
type Finder struct {
	Text            string `json:"text,omitempty" yaml:"text,omitempty"`
	AccessibilityID string `json:"accessibilityId,omitempty" yaml:"accessibilityId,omitempty"`
	WidgetKey       string `json:"widgetKey,omitempty" yaml:"widgetKey,omitempty"`
	WidgetType      string `json:"widgetType,omitempty" yaml:"widgetType,omitempty"`
}

// Kind returns the finder's discriminant, or an error if the finder does
// not have exactly one discriminant set.
func (f Finder) Kind() (FinderKind, error) {
	kind := FinderInvalid
	set := 0
	if f.Text != "" {
		kind = FinderText
		set++
	}
	if f.AccessibilityID != "" {
		kind = FinderAccessibilityID
		set++
	}
	if f.WidgetKey != "" {
		kind = FinderWidgetKey
		set++
	}
	if f.WidgetType != "" {
		kind = FinderWidgetType
		set++
	}
	switch set {
	case 1:
		return kind, nil
	case 0:
		return FinderInvalid, ErrValidation.WithMessage("finder has no discriminant set")
	default:
		return FinderInvalid, ErrValidation.WithMessage(
			fmt.Sprintf("finder has %d discriminants set, want exactly one", set))
	}
}

// Validate checks the exactly-one-discriminant invariant.
func (f Finder) Validate() error {
	_, err := f.Kind()
	return err
}

// Value returns the value of the set discriminant.
func (f Finder) Value() string {
	switch {
	case f.Text != "":
		return f.Text
	case f.AccessibilityID != "":
		return f.AccessibilityID
	case f.WidgetKey != "":
		return f.WidgetKey
	default:
		return f.WidgetType
	}
}

// Describe returns a human-readable description like text="Submit".
func (f Finder) Describe() string {
	kind, err := f.Kind()
	if err != nil {
		return "invalid finder"
	}
	return fmt.Sprintf("%s=%q", kind, f.Value())
}
