package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMsg struct {
	chat string
	text string
	docs []string
}

type fakeSender struct {
	failDocsFor map[string]bool
	failMsgFor  map[string]bool
	messages    []sentMsg
	documents   []sentMsg
}

func (f *fakeSender) SendMessage(ctx context.Context, chatID, text string) error {
	if f.failMsgFor[chatID] {
		return errors.New("send failed")
	}
	f.messages = append(f.messages, sentMsg{chat: chatID, text: text})
	return nil
}

func (f *fakeSender) SendDocuments(ctx context.Context, chatID, caption string, paths []string) error {
	if f.failDocsFor[chatID] {
		return errors.New("media failed")
	}
	f.documents = append(f.documents, sentMsg{chat: chatID, text: caption, docs: paths})
	return nil
}

func TestInfoFansOutToAllRecipients(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, []string{"a", "b", "c"}, zerolog.Nop())

	require.NoError(t, n.Info(context.Background(), "monitor started"))
	require.Len(t, s.messages, 3)
	assert.Equal(t, "b", s.messages[1].chat)
}

func TestInfoOneFailureDoesNotBlockOthers(t *testing.T) {
	s := &fakeSender{failMsgFor: map[string]bool{"b": true}}
	n := NewNotifier(s, []string{"a", "b", "c"}, zerolog.Nop())

	err := n.Info(context.Background(), "hi")
	assert.Error(t, err)
	assert.Len(t, s.messages, 2)
}

func TestAlertSendsEvidence(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, []string{"a"}, zerolog.Nop())

	shots := []string{"/tmp/p1.png", "/tmp/p2.png"}
	require.NoError(t, n.Alert(context.Background(), "issues found", shots))

	require.Len(t, s.documents, 1)
	assert.Equal(t, shots, s.documents[0].docs)
	assert.Empty(t, s.messages)
}

func TestAlertFallsBackToTextWithNote(t *testing.T) {
	s := &fakeSender{failDocsFor: map[string]bool{"a": true}}
	n := NewNotifier(s, []string{"a", "b"}, zerolog.Nop())

	require.NoError(t, n.Alert(context.Background(), "issues found", []string{"/tmp/p.png"}))

	// Recipient a got the degraded text, recipient b got the full alert.
	require.Len(t, s.messages, 1)
	assert.Equal(t, "a", s.messages[0].chat)
	assert.Contains(t, s.messages[0].text, "could not be delivered")
	require.Len(t, s.documents, 1)
	assert.Equal(t, "b", s.documents[0].chat)
}

func TestAlertTotalFailureReturnsError(t *testing.T) {
	s := &fakeSender{
		failDocsFor: map[string]bool{"a": true},
		failMsgFor:  map[string]bool{"a": true},
	}
	n := NewNotifier(s, []string{"a"}, zerolog.Nop())

	err := n.Alert(context.Background(), "issues", nil)
	assert.Error(t, err)
}
