package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartialsCollapseIntoOneFinalEntry(t *testing.T) {
	a := NewAggregator(PartialReplace)
	a.Partial(SpeakerUser, "hel")
	a.Partial(SpeakerUser, "hello")
	a.Final(SpeakerUser, "hello")

	entries := a.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "hello", entries[0].Text)
	assert.True(t, entries[0].Final)
}

func TestFinalEntriesAreNeverRevised(t *testing.T) {
	a := NewAggregator(PartialReplace)
	a.Partial(SpeakerAvatar, "Hi")
	a.Final(SpeakerAvatar, "Hi there")
	a.Partial(SpeakerAvatar, "How")
	a.Final(SpeakerAvatar, "How can I help?")

	entries := a.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "Hi there", entries[0].Text)
	assert.Equal(t, "How can I help?", entries[1].Text)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, 2, entries[1].Seq)
}

func TestInterleavedSpeakersKeepInsertionOrder(t *testing.T) {
	a := NewAggregator(PartialReplace)
	a.Partial(SpeakerUser, "what")
	a.Partial(SpeakerAvatar, "one")
	a.Partial(SpeakerUser, "what is")
	a.Final(SpeakerAvatar, "one moment")
	a.Final(SpeakerUser, "")

	entries := a.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "what is", entries[0].Text)
	assert.True(t, entries[0].Final)
	assert.Equal(t, SpeakerAvatar, entries[1].Speaker)
	assert.Equal(t, "one moment", entries[1].Text)
}

func TestFinalWithoutPartialAppends(t *testing.T) {
	a := NewAggregator(PartialReplace)
	a.Final(SpeakerUser, "hi")
	a.Final(SpeakerUser, "again")
	require.Equal(t, 2, a.Len())
	user, avatar := a.Counts()
	assert.Equal(t, 2, user)
	assert.Equal(t, 0, avatar)
}

func TestAppendModeConcatenatesDeltas(t *testing.T) {
	a := NewAggregator(PartialAppend)
	a.Partial(SpeakerAvatar, "Hello")
	a.Partial(SpeakerAvatar, "world")
	e := a.Final(SpeakerAvatar, "")
	assert.Equal(t, "Hello world", e.Text)
	assert.True(t, e.Final)
}

func TestResetClearsLog(t *testing.T) {
	a := NewAggregator(PartialReplace)
	a.Partial(SpeakerUser, "x")
	a.Reset()
	assert.Equal(t, 0, a.Len())
	e := a.Partial(SpeakerUser, "y")
	assert.Equal(t, 1, e.Seq)
	assert.False(t, e.Final)
}

func TestEntriesReturnsCopy(t *testing.T) {
	a := NewAggregator(PartialReplace)
	a.Final(SpeakerUser, "keep")
	got := a.Entries()
	got[0].Text = "mutated"
	assert.Equal(t, "keep", a.Entries()[0].Text)
}

func TestParsePartialMode(t *testing.T) {
	m, ok := ParsePartialMode("")
	assert.True(t, ok)
	assert.Equal(t, PartialReplace, m)
	m, ok = ParsePartialMode("APPEND")
	assert.True(t, ok)
	assert.Equal(t, PartialAppend, m)
	_, ok = ParsePartialMode("merge")
	assert.False(t, ok)
}
