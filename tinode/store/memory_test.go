package store

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tinode/gosdk/tinode/types"
)

func TestMemoryTopicRoundtrip(t *testing.T) {
	m := NewMemory()

	if _, err := m.LoadTopic("grpTest"); err != ErrNotFound {
		t.Fatalf("LoadTopic on empty store err = %v, want ErrNotFound", err)
	}

	snap := &TopicSnapshot{
		Name:      "grpTest",
		UpdatedAt: time.Now().UTC().Round(time.Millisecond),
		SeqID:     20,
		ReadSeqID: 15,
		Tags:      []string{"test"},
	}
	if err := m.SaveTopic("grpTest", snap); err != nil {
		t.Fatal(err)
	}

	got, err := m.LoadTopic("grpTest")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, snap) {
		t.Errorf("snapshot mismatch: %s", cmp.Diff(snap, got))
	}

	// The stored copy is independent of the caller's struct.
	snap.SeqID = 99
	if got, _ = m.LoadTopic("grpTest"); got.SeqID != 20 {
		t.Error("stored snapshot aliases the caller's value")
	}
}

func TestMemoryMessages(t *testing.T) {
	m := NewMemory()
	for _, seq := range []int{3, 1, 2, 5} {
		if err := m.AppendMessage("grpTest", Message{Topic: "grpTest", SeqID: seq}); err != nil {
			t.Fatal(err)
		}
	}
	// Replace by seq id.
	m.AppendMessage("grpTest", Message{Topic: "grpTest", SeqID: 2, Content: "edited"})

	msgs, err := m.LoadMessages("grpTest", types.Range{})
	if err != nil {
		t.Fatal(err)
	}
	var seqs []int
	for _, msg := range msgs {
		seqs = append(seqs, msg.SeqID)
	}
	if !cmp.Equal(seqs, []int{1, 2, 3, 5}) {
		t.Errorf("seqs = %v, want sorted without duplicates", seqs)
	}
	if msgs[1].Content != "edited" {
		t.Error("replace by seq id did not stick")
	}

	ranged, _ := m.LoadMessages("grpTest", types.Range{Low: 2, Hi: 4})
	if len(ranged) != 2 || ranged[0].SeqID != 2 || ranged[1].SeqID != 3 {
		t.Errorf("ranged load = %v", ranged)
	}

	if err := m.DeleteMessages("grpTest", types.Range{Low: 1, Hi: 3}); err != nil {
		t.Fatal(err)
	}
	msgs, _ = m.LoadMessages("grpTest", types.Range{})
	if len(msgs) != 2 || msgs[0].SeqID != 3 || msgs[1].SeqID != 5 {
		t.Errorf("messages after delete = %v", msgs)
	}
}
