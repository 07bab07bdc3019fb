package main

import (
	"bytes"
	"testing"

	"github.com/matryer/is"
)

func TestFeeCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"not overdue", []string{"2024-03-10", "--at", "2024-03-10"}, "Book not overdue: $0.00 (0 days overdue)\n"},
		{"first tier", []string{"2024-03-10", "--at", "2024-03-13"}, "Late fee calculated: $1.50 (3 days overdue)\n"},
		{"second tier", []string{"2024-03-01", "--at", "2024-03-11"}, "Late fee calculated: $6.50 (10 days overdue)\n"},
		{"capped", []string{"2024-01-01", "--at", "2024-03-01"}, "Late fee calculated: $15.00 (60 days overdue)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			var out bytes.Buffer

			cmd := newFeeCmd()
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			is.NoErr(cmd.Execute())
			is.Equal(out.String(), tt.want)
		})
	}

	t.Run("expected error on a malformed date", func(t *testing.T) {
		is := is.New(t)
		cmd := newFeeCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"10/03/2024"})
		is.True(cmd.Execute() != nil)
	})
}
