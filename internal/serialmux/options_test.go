package serialmux

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.bug.st/serial"
)

func TestPortOptions_Normalize_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := PortOptions{
		BaudRate:    115200,
		DataBits:    8,
		StopBits:    1,
		Parity:      "N",
		ReadTimeout: time.Second,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{
			name: "explicit values",
			in:   PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E", ReadTimeout: 250 * time.Millisecond},
			want: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E", ReadTimeout: 250 * time.Millisecond},
		},
		{
			name: "long parity names",
			in:   PortOptions{Parity: " odd "},
			want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "O", ReadTimeout: time.Second},
		},
		{
			name: "none parity",
			in:   PortOptions{Parity: "none"},
			want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N", ReadTimeout: time.Second},
		},
		{
			name: "negative baud falls back to default",
			in:   PortOptions{BaudRate: -1},
			want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N", ReadTimeout: time.Second},
		},
		{name: "non-standard baud", in: PortOptions{BaudRate: 12345}, wantErr: true},
		{name: "data bits too small", in: PortOptions{DataBits: 4}, wantErr: true},
		{name: "data bits too large", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "parity", in: PortOptions{Parity: "mark"}, wantErr: true},
		{name: "negative timeout", in: PortOptions{ReadTimeout: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize() expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPortOptions_Equal(t *testing.T) {
	a := PortOptions{}
	b := PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "none", ReadTimeout: time.Second}
	if !a.Equal(b) {
		t.Error("expected default and explicit default options to be equal")
	}
	if a.Equal(PortOptions{BaudRate: 9600}) {
		t.Error("expected different baud rates to differ")
	}
	if a.Equal(PortOptions{BaudRate: 7}) {
		t.Error("expected invalid options never to be equal")
	}
}

func TestPortOptions_String(t *testing.T) {
	opts, err := PortOptions{Parity: "E", StopBits: 2}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got, want := opts.String(), "115200 8E2"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	tests := []struct {
		name string
		in   PortOptions
		want serial.Mode
	}{
		{
			name: "defaults",
			in:   PortOptions{},
			want: serial.Mode{BaudRate: 115200, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.NoParity},
		},
		{
			name: "two stop bits even parity",
			in:   PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"},
			want: serial.Mode{BaudRate: 9600, DataBits: 7, StopBits: serial.TwoStopBits, Parity: serial.EvenParity},
		},
		{
			name: "odd parity",
			in:   PortOptions{Parity: "O"},
			want: serial.Mode{BaudRate: 115200, DataBits: 8, StopBits: serial.OneStopBit, Parity: serial.OddParity},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.in.SerialMode()
			if err != nil {
				t.Fatalf("SerialMode() error = %v", err)
			}
			if mode.BaudRate != tt.want.BaudRate || mode.DataBits != tt.want.DataBits ||
				mode.StopBits != tt.want.StopBits || mode.Parity != tt.want.Parity {
				t.Errorf("SerialMode() = %+v, want %+v", *mode, tt.want)
			}
		})
	}
}

func TestPortOptions_SerialMode_Invalid(t *testing.T) {
	if _, err := (PortOptions{DataBits: 10}).SerialMode(); err == nil {
		t.Fatal("expected error for invalid data bits")
	}
}
