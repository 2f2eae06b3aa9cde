// Copyright 2025 The mcpwire Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	internaljson "github.com/mcpwire/mcpwire/internal/json"
)

// Content is the interface of all content types: [TextContent],
// [ImageContent], [AudioContent], [ResourceLink], and [EmbeddedResource].
//
// Content values are JSON objects discriminated on their "type" property.
type Content interface {
	// fromWire assigns the fields of *wire to the receiver.
	fromWire(wire *wireContent)
}

// wireContent is the wire format for content. It has the fields of all
// content types, but only those corresponding to its Type are used.
type wireContent struct {
	Type        string           `json:"type"`
	Text        string           `json:"text,omitempty"`
	MIMEType    string           `json:"mimeType,omitempty"`
	Data        []byte           `json:"data,omitempty"`
	URI         string           `json:"uri,omitempty"`
	Name        string           `json:"name,omitempty"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Size        int64            `json:"size,omitempty"`
	Resource    *ResourceContents `json:"resource,omitempty"`
	Annotations *Annotations     `json:"annotations,omitempty"`
	Meta        Meta             `json:"_meta,omitempty"`
}

// TextContent is a textual content.
type TextContent struct {
	Text        string
	Meta        Meta
	Annotations *Annotations
}

func (c *TextContent) MarshalJSON() ([]byte, error) {
	// Custom marshal logic so the required "text" field is always present,
	// even when empty.
	return json.Marshal(&wireContent{
		Type:        "text",
		Text:        c.Text,
		Meta:        c.Meta,
		Annotations: c.Annotations,
	})
}

func (c *TextContent) fromWire(wire *wireContent) {
	c.Text = wire.Text
	c.Meta = wire.Meta
	c.Annotations = wire.Annotations
}

// ImageContent contains base64-encoded image data.
type ImageContent struct {
	Data        []byte // base64-encoded on the wire
	MIMEType    string
	Meta        Meta
	Annotations *Annotations
}

func (c *ImageContent) MarshalJSON() ([]byte, error) {
	// Required fields are always present, even when empty.
	data := c.Data
	if data == nil {
		data = []byte{}
	}
	return json.Marshal(&wireContent{
		Type:        "image",
		MIMEType:    c.MIMEType,
		Data:        data,
		Meta:        c.Meta,
		Annotations: c.Annotations,
	})
}

func (c *ImageContent) fromWire(wire *wireContent) {
	c.Data = wire.Data
	c.MIMEType = wire.MIMEType
	c.Meta = wire.Meta
	c.Annotations = wire.Annotations
}

// AudioContent contains base64-encoded audio data.
type AudioContent struct {
	Data        []byte // base64-encoded on the wire
	MIMEType    string
	Meta        Meta
	Annotations *Annotations
}

func (c *AudioContent) MarshalJSON() ([]byte, error) {
	data := c.Data
	if data == nil {
		data = []byte{}
	}
	return json.Marshal(&wireContent{
		Type:        "audio",
		MIMEType:    c.MIMEType,
		Data:        data,
		Meta:        c.Meta,
		Annotations: c.Annotations,
	})
}

func (c *AudioContent) fromWire(wire *wireContent) {
	c.Data = wire.Data
	c.MIMEType = wire.MIMEType
	c.Meta = wire.Meta
	c.Annotations = wire.Annotations
}

// ResourceLink is a link to a resource that the client can read.
type ResourceLink struct {
	URI         string
	Name        string
	Title       string
	Description string
	MIMEType    string
	Size        int64
	Meta        Meta
	Annotations *Annotations
}

func (c *ResourceLink) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireContent{
		Type:        "resource_link",
		URI:         c.URI,
		Name:        c.Name,
		Title:       c.Title,
		Description: c.Description,
		MIMEType:    c.MIMEType,
		Size:        c.Size,
		Meta:        c.Meta,
		Annotations: c.Annotations,
	})
}

func (c *ResourceLink) fromWire(wire *wireContent) {
	c.URI = wire.URI
	c.Name = wire.Name
	c.Title = wire.Title
	c.Description = wire.Description
	c.MIMEType = wire.MIMEType
	c.Size = wire.Size
	c.Meta = wire.Meta
	c.Annotations = wire.Annotations
}

// EmbeddedResource contains embedded resource contents.
type EmbeddedResource struct {
	Resource    *ResourceContents
	Meta        Meta
	Annotations *Annotations
}

func (c *EmbeddedResource) MarshalJSON() ([]byte, error) {
	return json.Marshal(&wireContent{
		Type:        "resource",
		Resource:    c.Resource,
		Meta:        c.Meta,
		Annotations: c.Annotations,
	})
}

func (c *EmbeddedResource) fromWire(wire *wireContent) {
	c.Resource = wire.Resource
	c.Meta = wire.Meta
	c.Annotations = wire.Annotations
}

// contentsFromWire converts wire content to a slice of Content values,
// returning an error if any content type is not in the allow set.
func contentsFromWire(wires []*wireContent, allow map[string]bool) ([]Content, error) {
	var blocks []Content
	for _, wire := range wires {
		block, err := contentFromWire(wire, allow)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func contentFromWire(wire *wireContent, allow map[string]bool) (Content, error) {
	if wire == nil {
		return nil, errors.New("missing content")
	}
	if allow != nil && !allow[wire.Type] {
		return nil, fmt.Errorf("invalid content type %q", wire.Type)
	}
	switch wire.Type {
	case "text":
		v := new(TextContent)
		v.fromWire(wire)
		return v, nil
	case "image":
		v := new(ImageContent)
		v.fromWire(wire)
		return v, nil
	case "audio":
		v := new(AudioContent)
		v.fromWire(wire)
		return v, nil
	case "resource_link":
		v := new(ResourceLink)
		v.fromWire(wire)
		return v, nil
	case "resource":
		v := new(EmbeddedResource)
		v.fromWire(wire)
		return v, nil
	}
	return nil, fmt.Errorf("unrecognized content type %q", wire.Type)
}

// unmarshalContent unmarshals a single JSON content object.
func unmarshalContent(data []byte) (Content, error) {
	var wire wireContent
	if err := internaljson.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	return contentFromWire(&wire, nil)
}
