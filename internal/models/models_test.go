package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestThread_Fields(t *testing.T) {
	typ := reflect.TypeOf(Thread{})

	assertGormTag(t, typ, "ThreadID", "primaryKey")
	assertGormTag(t, typ, "Channel", "not null")
	assertGormTag(t, typ, "Status", "default:active")
	assertGormTag(t, typ, "Status", "index")
	assertGormTag(t, typ, "LastActivity", "index")

	assertFieldType(t, typ, "ThreadID", "string")
	assertFieldType(t, typ, "LastActivity", "time.Time")
	assertFieldType(t, typ, "ClosedAt", "*time.Time")
}

func TestCheckpoint_Fields(t *testing.T) {
	typ := reflect.TypeOf(Checkpoint{})

	assertGormTag(t, typ, "ThreadID", "primaryKey")
	assertGormTag(t, typ, "Criteria", "type:text")
	assertGormTag(t, typ, "NextNode", "size:64")
	assertGormTag(t, typ, "MessageCount", "default:0")

	assertFieldType(t, typ, "SuspendedAt", "*time.Time")
	assertFieldType(t, typ, "MessageCount", "int")
}

func TestConversationTurn_Fields(t *testing.T) {
	typ := reflect.TypeOf(ConversationTurn{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "autoIncrement")
	// thread_id + sequence is unique so the log cannot be rewritten.
	assertGormTag(t, typ, "ThreadID", "uniqueIndex:idx_turn_thread_seq")
	assertGormTag(t, typ, "Sequence", "uniqueIndex:idx_turn_thread_seq")
	assertGormTag(t, typ, "Role", "not null")
	assertGormTag(t, typ, "Content", "type:mediumtext")

	assertFieldType(t, typ, "Sequence", "int")
}

func TestToolExecution_Fields(t *testing.T) {
	typ := reflect.TypeOf(ToolExecution{})

	assertGormTag(t, typ, "CallID", "primaryKey")
	assertGormTag(t, typ, "ThreadID", "index")
	assertGormTag(t, typ, "Status", "default:dispatched")

	assertFieldType(t, typ, "CompletedAt", "*time.Time")
}

func TestProperty_Fields(t *testing.T) {
	typ := reflect.TypeOf(Property{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "City", "index:idx_property_location")
	assertGormTag(t, typ, "State", "index:idx_property_location")
	assertGormTag(t, typ, "Price", "index")

	assertFieldType(t, typ, "Price", "float64")
	assertFieldType(t, typ, "Bed", "int")
	assertFieldType(t, typ, "Bath", "int")
}

func TestThread_Instantiation(t *testing.T) {
	now := time.Now()
	th := Thread{
		ThreadID:     "sms_+15125550100",
		UserID:       "+15125550100",
		Channel:      "sms",
		Status:       "active",
		LastActivity: now,
	}
	if th.ThreadID != "sms_+15125550100" {
		t.Errorf("ThreadID = %q, want %q", th.ThreadID, "sms_+15125550100")
	}
	if th.ClosedAt != nil {
		t.Error("ClosedAt should be nil for a new thread")
	}
}
