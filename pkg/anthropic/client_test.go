package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestMockClient_SatisfiesClient(t *testing.T) {
	var c Client = new(MockClient)
	mc := c.(*MockClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&MessageResponse{Content: []ContentBlock{{Type: "text", Text: "Merhaba"}}}, nil)

	resp, err := c.CreateMessage(context.Background(), MessageRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "Merhaba", resp.Text())
	mc.AssertExpectations(t)
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "part one"},
		{Type: "tool_use"},
		{Type: "text", Text: "part two"},
	}}
	assert.Equal(t, "part one\npart two", resp.Text())

	var nilResp *MessageResponse
	assert.Equal(t, "", nilResp.Text())
}

func TestTokenUsage(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 20, CacheCreationInputTokens: 5, CacheReadInputTokens: 300}
	assert.Equal(t, int64(425), u.Total())

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range u.Fields() {
		f.AddTo(enc)
	}
	assert.Equal(t, map[string]any{
		"input_tokens":       int64(100),
		"output_tokens":      int64(20),
		"cache_write_tokens": int64(5),
		"cache_read_tokens":  int64(300),
	}, enc.Fields)
}

func TestToSDKMessages(t *testing.T) {
	got := toSDKMessages([]Message{
		{Role: "user", Content: "Hello"},
		{Role: "assistant", Content: "Hi there"},
		{Role: "system", Content: "unknown role"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, "user", string(got[0].Role))
	assert.Equal(t, "assistant", string(got[1].Role))
	assert.Equal(t, "user", string(got[2].Role))
}

func TestToSDKSystemBlocks(t *testing.T) {
	got := toSDKSystemBlocks(CachedSystem("You extract offerings.", "Sector context."))
	require.Len(t, got, 2)
	assert.Equal(t, "You extract offerings.", got[0].Text)
	assert.Equal(t, "Sector context.", got[1].Text)
	assert.Equal(t, "1h", string(got[1].CacheControl.TTL))
}
