package utils

import (
	"errors"
	"fmt"
	"testing"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	dup := &mysqlDriver.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if !IsDuplicateKeyErr(dup) {
		t.Fatalf("expected 1062 to be a duplicate")
	}
	if !IsDuplicateKeyErr(fmt.Errorf("create budget: %w", dup)) {
		t.Fatalf("expected wrapped 1062 to be a duplicate")
	}
	if IsDuplicateKeyErr(&mysqlDriver.MySQLError{Number: 1213}) {
		t.Fatalf("deadlock is not a duplicate")
	}
	if IsDuplicateKeyErr(errors.New("duplicate")) {
		t.Fatalf("plain errors are not duplicates")
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("work order")
	if err.Error() != "work order not found" {
		t.Fatalf("message = %q", err.Error())
	}
	if !errors.Is(err, ErrorRecordNotFound) {
		t.Fatalf("expected a match with ErrorRecordNotFound")
	}
	if !errors.Is(fmt.Errorf("record consumption: %w", err), ErrorRecordNotFound) {
		t.Fatalf("expected a wrapped match with ErrorRecordNotFound")
	}
	if errors.Is(errors.New("work order not found"), ErrorRecordNotFound) {
		t.Fatalf("a plain error must not match by its text")
	}
}
