package wire

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		frame Frame
		want  Kind
	}{
		{
			name:  "auth",
			frame: Frame{Type: TypeAuth, SenderID: "p1", TargetID: "p2", Auth: &AuthPayload{ShareID: "s1", ConnectionMessage: []byte{1}}},
			want:  KindAuth,
		},
		{
			name:  "auth without payload",
			frame: Frame{Type: TypeAuth, SenderID: "p1"},
			want:  KindInvalid,
		},
		{
			name:  "sealed",
			frame: Frame{Type: TypeSealed, SenderID: "p1", ShareID: "s1", Sealed: []byte{1, 2}},
			want:  KindSealed,
		},
		{
			name:  "sealed without ciphertext",
			frame: Frame{Type: TypeSealed, SenderID: "p1", ShareID: "s1"},
			want:  KindInvalid,
		},
		{
			name:  "pass through",
			frame: Frame{Type: "sync", SenderID: "p1"},
			want:  KindPassThrough,
		},
		{
			name:  "missing type",
			frame: Frame{SenderID: "p1"},
			want:  KindInvalid,
		},
		{
			name:  "missing sender",
			frame: Frame{Type: "sync"},
			want:  KindInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.frame.Classify(); got != tc.want {
				t.Errorf("failed classification, %s != %s", got, tc.want)
			}
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	body, err := cbor.Marshal(map[string]any{"docId": "d1", "payload": []byte{9, 8, 7}})
	if nil != err {
		t.Fatalf("failed body marshal, got error %v", err)
	}

	f := Frame{Type: "sync", SenderID: "p1", TargetID: "p2", Body: body}
	data, err := Encode(f)
	if nil != err {
		t.Fatalf("failed encoding, got error %v", err)
	}

	got, err := Decode(data)
	if nil != err {
		t.Fatalf("failed decoding, got error %v", err)
	}
	if got.Type != f.Type || got.SenderID != f.SenderID || got.TargetID != f.TargetID {
		t.Errorf("failed envelope control, %+v != %+v", got, f)
	}
	if !bytes.Equal(got.Body, f.Body) {
		t.Error("pass-through body did not round trip bit exactly")
	}
}

func TestCodecStableReencode(t *testing.T) {
	f := Frame{
		Type:     TypeAuth,
		SenderID: "p1",
		TargetID: "p2",
		Auth:     &AuthPayload{ShareID: "s1", ConnectionMessage: []byte{1, 2, 3}},
	}
	blob, err := Encode(f)
	if nil != err {
		t.Fatalf("failed encoding, got error %v", err)
	}

	decoded, err := Decode(blob)
	if nil != err {
		t.Fatalf("failed decoding, got error %v", err)
	}
	blob2, err := Encode(decoded)
	if nil != err {
		t.Fatalf("failed re-encoding, got error %v", err)
	}
	if !bytes.Equal(blob, blob2) {
		t.Error("encode(decode(blob)) != blob")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xFF, 0x00, 0x13, 0x37})
	if nil == err {
		t.Fatal("garbage decoded successfully")
	}
}
