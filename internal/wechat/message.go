// Package wechat implements the WeChat Official Account message envelope.
package wechat

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// MsgTypeText is the only message type this bridge answers.
const MsgTypeText = "text"

// Message is a parsed inbound or outbound WeChat message.
type Message struct {
	ToUserName   string
	FromUserName string
	CreateTime   int64
	MsgType      string
	Content      string
	MsgID        string
}

type inboundEnvelope struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   string   `xml:"ToUserName"`
	FromUserName string   `xml:"FromUserName"`
	CreateTime   int64    `xml:"CreateTime"`
	MsgType      string   `xml:"MsgType"`
	Content      string   `xml:"Content"`
	MsgID        string   `xml:"MsgId"`
}

// cdata wraps element text in a CDATA section on output. WeChat's sample
// payloads CDATA-wrap every text field, so replies do the same.
type cdata struct {
	Text string `xml:",cdata"`
}

type outboundEnvelope struct {
	XMLName      xml.Name `xml:"xml"`
	ToUserName   cdata    `xml:"ToUserName"`
	FromUserName cdata    `xml:"FromUserName"`
	CreateTime   cdata    `xml:"CreateTime"`
	MsgType      cdata    `xml:"MsgType"`
	Content      cdata    `xml:"Content"`
}

// ParseMessage decodes a raw webhook body into a Message.
func ParseMessage(raw []byte) (*Message, error) {
	var env inboundEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse wechat message: %w", err)
	}
	if env.ToUserName == "" || env.FromUserName == "" {
		return nil, fmt.Errorf("parse wechat message: missing addressing fields")
	}
	return &Message{
		ToUserName:   env.ToUserName,
		FromUserName: env.FromUserName,
		CreateTime:   env.CreateTime,
		MsgType:      env.MsgType,
		Content:      strings.TrimSpace(env.Content),
		MsgID:        env.MsgID,
	}, nil
}

// NewTextReply builds a text reply addressed back to the sender of req.
func NewTextReply(req *Message, content string) *Message {
	return &Message{
		ToUserName:   req.FromUserName,
		FromUserName: req.ToUserName,
		CreateTime:   time.Now().Unix(),
		MsgType:      MsgTypeText,
		Content:      strings.TrimSpace(content),
	}
}

// Serialize renders the message as the WeChat reply XML envelope.
func (m *Message) Serialize() ([]byte, error) {
	env := outboundEnvelope{
		ToUserName:   cdata{m.ToUserName},
		FromUserName: cdata{m.FromUserName},
		CreateTime:   cdata{fmt.Sprintf("%d", m.CreateTime)},
		MsgType:      cdata{m.MsgType},
		Content:      cdata{m.Content},
	}
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("serialize wechat message: %w", err)
	}
	return out, nil
}

// IsText reports whether the message is a plain text message.
func (m *Message) IsText() bool {
	return m.MsgType == MsgTypeText
}
