package opener

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	if err := w.Open(context.Background(), "solflare://ul/v1/connect?a=1"); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := buf.String(); got != "solflare://ul/v1/connect?a=1\n" {
		t.Errorf("output = %q", got)
	}
}

func TestFunc(t *testing.T) {
	var got string
	o := Func(func(_ context.Context, target string) error {
		got = target
		return nil
	})
	o.Open(context.Background(), "x://y")
	if got != "x://y" {
		t.Errorf("Func target = %q", got)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Open(context.Background(), "a://1")
	r.Open(context.Background(), "a://2")

	if r.Last() != "a://2" || len(r.Targets()) != 2 {
		t.Errorf("Targets() = %v", r.Targets())
	}

	boom := errors.New("boom")
	r.FailWith(boom)
	if err := r.Open(context.Background(), "a://3"); !errors.Is(err, boom) {
		t.Errorf("Open() error = %v, want boom", err)
	}
	if len(r.Targets()) != 2 {
		t.Error("failed open was recorded")
	}
}

func TestNew(t *testing.T) {
	if o, err := New("print", "", &bytes.Buffer{}); err != nil {
		t.Errorf("New(print) error = %v", err)
	} else if _, ok := o.(*Writer); !ok {
		t.Errorf("New(print) = %T, want *Writer", o)
	}

	if o, err := New("command", "termux-open-url", nil); err != nil {
		t.Errorf("New(command) error = %v", err)
	} else if c, ok := o.(*Command); !ok || c.Name != "termux-open-url" {
		t.Errorf("New(command) = %#v", o)
	}

	if _, err := New("command", "", nil); err == nil {
		t.Error("New(command) without a command should fail")
	}
	if _, err := New("fax", "", nil); err == nil {
		t.Error("New(fax) should fail")
	}
}

func TestCommand_Failure(t *testing.T) {
	c := &Command{Name: "/nonexistent/opener-binary"}
	if err := c.Open(context.Background(), "x://y"); err == nil {
		t.Error("Open() with a missing binary should fail")
	}
}
