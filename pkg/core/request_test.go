package core

import (
	"testing"
	"time"
)

func TestNewRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		finder  Finder
		opts    []RequestOption
		wantErr bool
	}{
		{
			name:   "valid tap",
			op:     OpTap,
			finder: Finder{Text: "Submit"},
		},
		{
			name:    "tap without finder",
			op:      OpTap,
			finder:  Finder{},
			wantErr: true,
		},
		{
			name:    "tap with two discriminants",
			op:      OpTap,
			finder:  Finder{Text: "Submit", WidgetType: "ElevatedButton"},
			wantErr: true,
		},
		{
			name:    "unknown operation",
			op:      Operation("hover"),
			finder:  Finder{Text: "Submit"},
			wantErr: true,
		},
		{
			name:   "swipe needs no finder",
			op:     OpSwipe,
			finder: Finder{},
			opts:   []RequestOption{WithDirection(SwipeUp)},
		},
		{
			name:    "swipe without direction",
			op:      OpSwipe,
			finder:  Finder{},
			wantErr: true,
		},
		{
			name:    "enterText without payload",
			op:      OpEnterText,
			finder:  Finder{AccessibilityID: "email_field"},
			wantErr: true,
		},
		{
			name:   "enterText with payload",
			op:     OpEnterText,
			finder: Finder{AccessibilityID: "email_field"},
			opts:   []RequestOption{WithText("user@example.com")},
		},
		{
			name:   "dumpTree needs no finder",
			op:     OpDumpTree,
			finder: Finder{},
		},
		{
			name:    "dumpTree with malformed finder still rejected",
			op:      OpDumpTree,
			finder:  Finder{Text: "a", WidgetKey: "b"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(tt.op, tt.finder, tt.opts...)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if KindOf(err) != ErrKindValidation {
					t.Errorf("got error kind %v, want validation", KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Timeout != DefaultTimeout {
				t.Errorf("got timeout %v, want default %v", req.Timeout, DefaultTimeout)
			}
			if !req.Fallback {
				t.Error("fallback should default to enabled")
			}
		})
	}
}

func TestNewRequest_Options(t *testing.T) {
	req, err := NewRequest(OpTap, Finder{Text: "Submit"},
		WithOverride(BackendWidgetTree),
		WithTimeout(5*time.Second),
		WithoutFallback(),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Override != BackendWidgetTree {
		t.Errorf("got override %v", req.Override)
	}
	if req.Timeout != 5*time.Second {
		t.Errorf("got timeout %v", req.Timeout)
	}
	if req.Fallback {
		t.Error("fallback should be disabled")
	}
}
