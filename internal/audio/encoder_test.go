package audio

import (
	"context"
	"testing"
)

func TestNewEncoder(t *testing.T) {
	tests := []struct {
		ext     string
		want    string
		wantErr bool
	}{
		{"wav", ExtWAV, false},
		{"WAV", ExtWAV, false},
		{"ogg", ExtOGG, false},
		{"mp3", ExtMP3, false},
		{"flac", ExtFLAC, false},
		{"aiff", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			enc, err := NewEncoder(tt.ext)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if enc.Extension() != tt.want {
				t.Errorf("Expected extension %s, got %s", tt.want, enc.Extension())
			}
		})
	}
}

func TestMIMEMapping(t *testing.T) {
	tests := []struct {
		ext  string
		mime string
	}{
		{ExtWAV, "audio/wav"},
		{ExtOGG, "audio/ogg"},
		{ExtMP3, "audio/mpeg"},
		{ExtFLAC, "audio/flac"},
	}

	for _, tt := range tests {
		mime, ok := MIMEForExtension(tt.ext)
		if !ok || mime != tt.mime {
			t.Errorf("MIMEForExtension(%s): expected %s, got %s", tt.ext, tt.mime, mime)
		}

		ext, ok := ExtensionForMIME(tt.mime)
		if !ok || ext != tt.ext {
			t.Errorf("ExtensionForMIME(%s): expected %s, got %s", tt.mime, tt.ext, ext)
		}
	}

	if _, ok := ExtensionForMIME("video/mp4"); ok {
		t.Error("Expected unknown MIME to be rejected")
	}
}

func TestSoxEncoderMissingBinary(t *testing.T) {
	enc := &SoxEncoder{Format: ExtFLAC, Binary: "sox-binary-that-does-not-exist"}

	if _, err := enc.Encode(context.Background(), []float32{0, 0.1}, 1, 8000); err == nil {
		t.Error("Expected error for missing binary")
	}
}
