// util/wire_test.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"bytes"
	"io"
	"net"
	"testing"
)

func TestCompressedConnRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	ca, err := MakeCompressedConn(a)
	if err != nil {
		t.Fatalf("MakeCompressedConn: %v", err)
	}
	cb, err := MakeCompressedConn(b)
	if err != nil {
		t.Fatalf("MakeCompressedConn: %v", err)
	}
	defer ca.Close()
	defer cb.Close()

	messages := [][]byte{
		[]byte("set_course"),
		bytes.Repeat([]byte("telemetry "), 200),
		{0, 1, 2, 3, 0xff},
	}

	for _, msg := range messages {
		errc := make(chan error, 1)
		go func() {
			_, err := ca.Write(msg)
			errc <- err
		}()

		// Each Write is flushed, so the full message is readable without
		// the sender closing its end.
		got := make([]byte, len(msg))
		if _, err := io.ReadFull(cb, got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := <-errc; err != nil {
			t.Fatalf("write: %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("round trip gave %q, want %q", got, msg)
		}
	}
}

func TestLoggingConnCountsBytes(t *testing.T) {
	a, b := net.Pipe()
	la := MakeLoggingConn(a, nil)
	lb := MakeLoggingConn(b, nil)
	defer la.Close()
	defer lb.Close()

	rx0, tx0 := GetLoggedBandwidth()

	msg := []byte("all_stop")
	go la.Write(msg)
	got := make([]byte, len(msg))
	if _, err := io.ReadFull(lb, got); err != nil {
		t.Fatalf("read: %v", err)
	}

	rx1, tx1 := GetLoggedBandwidth()
	if tx1-tx0 < int64(len(msg)) {
		t.Errorf("TX accounting: %d -> %d", tx0, tx1)
	}
	if rx1-rx0 < int64(len(msg)) {
		t.Errorf("RX accounting: %d -> %d", rx0, rx1)
	}
}
