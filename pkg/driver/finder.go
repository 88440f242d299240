package driver

import (
	"fmt"

	"github.com/devicelab-dev/flutterctl/pkg/core"
)

// Finder encodings understood by the app-side automation extension.

func byValueKey(key string) map[string]interface{} {
	return map[string]interface{}{
		"finderType":     "ByValueKey",
		"keyValueString": key,
		"keyValueType":   "String",
	}
}

func byType(typeName string) map[string]interface{} {
	return map[string]interface{}{
		"finderType": "ByType",
		"type":       typeName,
	}
}

func byText(text string) map[string]interface{} {
	return map[string]interface{}{
		"finderType": "ByText",
		"text":       text,
	}
}

func byTooltip(message string) map[string]interface{} {
	return map[string]interface{}{
		"finderType": "ByTooltipMessage",
		"text":       message,
	}
}

func bySemanticsLabel(label string, isRegexp bool) map[string]interface{} {
	return map[string]interface{}{
		"finderType": "BySemanticsLabel",
		"label":      label,
		"isRegExp":   isRegexp,
	}
}

func byDescendant(of, matching map[string]interface{}, firstMatchOnly bool) map[string]interface{} {
	return map[string]interface{}{
		"finderType":     "Descendant",
		"of":             of,
		"matching":       matching,
		"matchRoot":      true,
		"firstMatchOnly": firstMatchOnly,
	}
}

// rootWidgetType anchors descendant searches at the app root.
const rootWidgetType = "MaterialApp"

// encodeFinder translates a request finder into the protocol's native
// encoding. Accessibility ids are not visible in the widget tree; the
// capability table keeps them away from this adapter.
func encodeFinder(f core.Finder) (map[string]interface{}, error) {
	kind, err := f.Kind()
	if err != nil {
		return nil, err
	}
	switch kind {
	case core.FinderWidgetKey:
		return byValueKey(f.WidgetKey), nil
	case core.FinderWidgetType:
		return byType(f.WidgetType), nil
	case core.FinderText:
		return byText(f.Text), nil
	default:
		return nil, core.ErrValidation.WithMessage(
			fmt.Sprintf("widget tree cannot serve %s", f.Describe()))
	}
}

// encodeExistenceFinder is the encoding for visibility checks. Text
// finders become an exists-by-descendant-text search from the root so a
// label rendered anywhere in the tree satisfies the check.
func encodeExistenceFinder(f core.Finder) (map[string]interface{}, error) {
	if f.Text != "" {
		return byDescendant(byType(rootWidgetType), byText(f.Text), true), nil
	}
	return encodeFinder(f)
}
