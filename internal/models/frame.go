package models

import (
	"encoding/json"
	"errors"
)

type FrameType string

const (
	FrameIdentify              FrameType = "identify"
	FrameConnectionEstablished FrameType = "connection_established"
	FrameChatMessage           FrameType = "chat_message"
	FrameMessageSent           FrameType = "message_sent"
	FrameNewMessage            FrameType = "new_message"
	FrameNewConversation       FrameType = "new_conversation"
	FrameTyping                FrameType = "typing"
	FrameStopTyping            FrameType = "stop_typing"
	FrameJoinConversation      FrameType = "join_conversation"
	FrameConversationJoined    FrameType = "conversation_joined"
	FrameLeaveConversation     FrameType = "leave_conversation"
	FrameOnlineConnections     FrameType = "online_connections"
	FrameError                 FrameType = "error"
)

// Frame is the wire unit of the protocol: a tagged envelope whose Data
// is decoded into the payload struct matching Type at the dispatch boundary.
type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame builds a frame with the payload marshaled into Data.
func NewFrame(frameType FrameType, payload interface{}) (Frame, error) {
	if payload == nil {
		return Frame{Type: frameType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: data}, nil
}

// DecodeData unmarshals the frame payload into v.
func (f Frame) DecodeData(v interface{}) error {
	if len(f.Data) == 0 {
		return errors.New("frame has no data")
	}
	return json.Unmarshal(f.Data, v)
}

// ErrorFrame builds a non-fatal error frame. Marshaling a plain struct
// cannot fail, so no error return.
func ErrorFrame(message, details string) Frame {
	frame, _ := NewFrame(FrameError, ErrorPayload{Message: message, Details: details})
	return frame
}

type ChatMessagePayload struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId,omitempty"`
	ReceiptID      string       `json:"receiptId,omitempty"`
	Content        string       `json:"content"`
	MessageType    string       `json:"messageType,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// UnmarshalJSON accepts "type" as an alias for "messageType"; some
// clients send the short key. An explicit messageType wins.
func (p *ChatMessagePayload) UnmarshalJSON(data []byte) error {
	type payload ChatMessagePayload
	aux := struct {
		*payload
		TypeAlias string `json:"type"`
	}{payload: (*payload)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.MessageType == "" {
		p.MessageType = aux.TypeAlias
	}
	return nil
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId,omitempty"`
}

type JoinConversationPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type ConversationJoinedPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

type LeaveConversationPayload struct {
	PreviousConversationID string `json:"previousConversationId"`
}

type ConnectionEstablishedPayload struct {
	UserID string `json:"userId"`
}

// MessageEnvelope carries a persisted message in message_sent,
// new_message and new_conversation frames.
type MessageEnvelope struct {
	ConversationID string  `json:"conversationId"`
	Data           Message `json:"data"`
}

// ConversationEnvelope carries the conversation record in a
// new_conversation frame so both participants can construct it locally.
type ConversationEnvelope struct {
	ConversationID string       `json:"conversationId"`
	Data           Conversation `json:"data"`
}

type OnlineConnectionsPayload struct {
	OnlineConnections []string `json:"onlineConnections"`
	TotalConnections  int      `json:"totalConnections"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
