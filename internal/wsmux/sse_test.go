package wsmux

import (
	"reflect"
	"testing"
)

func TestSSEParser_SingleEventInOneChunk(t *testing.T) {
	p := newSSEParser()
	events := p.feed([]byte("event: tick\ndata: hello\n\n"))
	want := []SSEEvent{{Event: "tick", Data: "hello"}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("got %+v, want %+v", events, want)
	}
}

func TestSSEParser_MultiLineData(t *testing.T) {
	p := newSSEParser()
	events := p.feed([]byte("data: line1\ndata: line2\n\n"))
	if len(events) != 1 || events[0].Data != "line1\nline2" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestSSEParser_PartialLineAcrossChunks(t *testing.T) {
	p := newSSEParser()
	var events []SSEEvent
	events = append(events, p.feed([]byte("data: hel"))...)
	events = append(events, p.feed([]byte("lo\n\n"))...)
	if len(events) != 1 || events[0].Data != "hello" {
		t.Errorf("split line did not reassemble: %+v", events)
	}
}

func TestSSEParser_DropsIDRetryAndComments(t *testing.T) {
	p := newSSEParser()
	events := p.feed([]byte(":comment\nid: 5\nretry: 1000\nevent: msg\ndata: payload\n\n"))
	want := []SSEEvent{{Event: "msg", Data: "payload"}}
	if !reflect.DeepEqual(events, want) {
		t.Errorf("got %+v, want %+v", events, want)
	}
}

func TestSSEParser_MultipleEventsOneChunk(t *testing.T) {
	p := newSSEParser()
	events := p.feed([]byte("data: a\n\ndata: b\n\n"))
	if len(events) != 2 || events[0].Data != "a" || events[1].Data != "b" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestSSEParser_NoEventBeforeBlankLine(t *testing.T) {
	p := newSSEParser()
	if events := p.feed([]byte("data: only\n")); len(events) != 0 {
		t.Errorf("expected no event before blank line, got %+v", events)
	}
}
