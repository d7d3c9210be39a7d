package bedrock

import (
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

// toConversation turns canonical messages into Converse messages, each with a
// single text content block. Converse rejects a system role inside the
// conversation, so system messages move to the system prompt instead; the
// relative order of the remaining messages is kept.
func toConversation(messages []types.Message) ([]brtypes.SystemContentBlock, []brtypes.Message) {
	var system []brtypes.SystemContentBlock
	conversation := make([]brtypes.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		conversation = append(conversation, brtypes.Message{
			Role: conversationRole(m.Role),
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: m.Content},
			},
		})
	}
	return system, conversation
}

func conversationRole(r types.Role) brtypes.ConversationRole {
	if r == types.RoleAssistant {
		return brtypes.ConversationRoleAssistant
	}
	return brtypes.ConversationRoleUser
}

// messageText returns the text of the first content block.
func messageText(m brtypes.Message) (string, bool) {
	if len(m.Content) == 0 {
		return "", false
	}
	text, ok := m.Content[0].(*brtypes.ContentBlockMemberText)
	if !ok {
		return "", false
	}
	return text.Value, true
}

// outputText extracts the reply text. A reply without text is a failure, not
// an empty success.
func outputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", upstream.ErrNoResponseText
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", upstream.ErrNoResponseText
	}
	text, ok := messageText(msg.Value)
	if !ok || text == "" {
		return "", upstream.ErrNoResponseText
	}
	return text, nil
}
