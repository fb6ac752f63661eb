package emit

import (
	"errors"
	"testing"
)

func TestEvent_ErrorText(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]interface{}
		want string
	}{
		{"nil meta", nil, ""},
		{"string error", map[string]interface{}{"error": "boom"}, "boom"},
		{"error value", map[string]interface{}{"error": errors.New("bang")}, "bang"},
		{"other type", map[string]interface{}{"error": 42}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Event{Meta: tt.meta}).ErrorText(); got != tt.want {
				t.Errorf("ErrorText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEvent_Recoverable(t *testing.T) {
	if (Event{}).Recoverable() {
		t.Error("event without meta should not be recoverable")
	}
	if !(Event{Meta: map[string]interface{}{"recoverable": true}}).Recoverable() {
		t.Error("expected recoverable")
	}
	if (Event{Meta: map[string]interface{}{"recoverable": "yes"}}).Recoverable() {
		t.Error("non-bool recoverable flag should be ignored")
	}
}

func TestOr(t *testing.T) {
	if _, ok := Or(nil).(*NullEmitter); !ok {
		t.Error("Or(nil) should return a NullEmitter")
	}
	buf := NewBufferedEmitter()
	if Or(buf) != Emitter(buf) {
		t.Error("Or should return a non-nil emitter unchanged")
	}
}

func TestNullEmitter_NoOp(t *testing.T) {
	emitter := NewNullEmitter()
	emitter.Emit(Event{RunID: "r", Msg: "anything", Meta: map[string]interface{}{"error": "x"}})
}

func TestMultiEmitter(t *testing.T) {
	a := NewBufferedEmitter()
	b := NewBufferedEmitter()
	m := NewMultiEmitter(a, nil, b)

	m.Emit(Event{RunID: "r", Msg: MsgPoolStart})

	if a.Count("r", MsgPoolStart) != 1 || b.Count("r", MsgPoolStart) != 1 {
		t.Error("expected event fanned out to every emitter")
	}
}
