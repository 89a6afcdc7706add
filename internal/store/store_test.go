package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMemStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	ms := &MemStore{}

	err := ms.Save(ctx, []string{"AuthProvider", "shares"}, []byte("blob"))
	if nil != err {
		t.Fatalf("failed save, got error %v", err)
	}

	got, err := ms.Load(ctx, []string{"AuthProvider", "shares"})
	if nil != err {
		t.Fatalf("failed load, got error %v", err)
	}
	if !bytes.Equal([]byte("blob"), got) {
		t.Errorf("failed round trip, %q != blob", got)
	}
}

func TestMemStoreLoadAbsent(t *testing.T) {
	ms := &MemStore{}

	_, err := ms.Load(context.Background(), []string{"nothing", "here"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("failed absent key control, got error %v", err)
	}
}

func TestMemStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	ms := &MemStore{}
	key := []string{"k"}

	if err := ms.Save(ctx, key, []byte("one")); nil != err {
		t.Fatalf("failed save, got error %v", err)
	}
	if err := ms.Save(ctx, key, []byte("two")); nil != err {
		t.Fatalf("failed save, got error %v", err)
	}

	got, err := ms.Load(ctx, key)
	if nil != err {
		t.Fatalf("failed load, got error %v", err)
	}
	if "two" != string(got) {
		t.Errorf("failed last-writer-wins control, %q != two", got)
	}
}

func TestMemStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	ms := &MemStore{}
	value := []byte("stable")

	if err := ms.Save(ctx, []string{"k"}, value); nil != err {
		t.Fatalf("failed save, got error %v", err)
	}
	value[0] = 'X'

	got, err := ms.Load(ctx, []string{"k"})
	if nil != err {
		t.Fatalf("failed load, got error %v", err)
	}
	if "stable" != string(got) {
		t.Errorf("failed isolation control, %q != stable", got)
	}
}

func TestJoinPathDisambiguates(t *testing.T) {
	if JoinPath([]string{"ab", "c"}) == JoinPath([]string{"a", "bc"}) {
		t.Error("distinct key paths joined to the same key")
	}
}
