package volume

import (
	"bytes"
	"fmt"

	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const selfTestLines = 5

// SelfTest creates name, appends to it, reads it back and deletes it.
func SelfTest(t *Task, name string) error {
	var head, tail bytes.Buffer
	for i := 0; i < selfTestLines; i++ {
		fmt.Fprintf(&head, "Hello World %d\r\n", i)
		fmt.Fprintf(&tail, "Hello World %d\r\n", i+selfTestLines)
	}

	logger.Log.Info("Creating test file", "path", t.Abs(name))
	if _, err := t.WriteFile(name, head.Bytes()); err != nil {
		return err
	}
	if _, err := t.AppendFile(name, tail.Bytes()); err != nil {
		return err
	}
	got, err := t.ReadFile(name)
	if err != nil {
		return err
	}
	want := append(head.Bytes(), tail.Bytes()...)
	if !bytes.Equal(got, want) {
		return fmt.Errorf("selftest: %s read back %d bytes that differ from the %d written", t.Abs(name), len(got), len(want))
	}
	if err := t.Remove(name); err != nil {
		return err
	}
	logger.Log.Info("Read/write test passed", "path", t.Abs(name), "bytes", len(want))
	return nil
}
