package handlers

import (
	"reflect"
	"testing"

	"github.com/groundworkhq/groundwork/pkg/agent/protocol"
)

func TestUseraddArgs(t *testing.T) {
	tests := []struct {
		name   string
		params *protocol.UserEnsureParams
		want   []string
	}{
		{
			name:   "bare account",
			params: &protocol.UserEnsureParams{Name: "deploy"},
			want:   []string{"deploy"},
		},
		{
			name: "full account",
			params: &protocol.UserEnsureParams{
				Name:       "deploy",
				UID:        1500,
				Shell:      "/bin/bash",
				Home:       "/srv/deploy",
				CreateHome: true,
				Groups:     []string{"wheel", "docker"},
			},
			want: []string{"-u", "1500", "-s", "/bin/bash", "-d", "/srv/deploy", "-m", "-G", "wheel,docker", "deploy"},
		},
		{
			name:   "system account",
			params: &protocol.UserEnsureParams{Name: "prometheus", System: true, Shell: "/usr/sbin/nologin"},
			want:   []string{"-r", "-s", "/usr/sbin/nologin", "prometheus"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := useraddArgs(tt.params); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("useraddArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUsermodArgs(t *testing.T) {
	current := &userRecord{
		UID:     1500,
		GID:     1500,
		Home:    "/home/deploy",
		Shell:   "/bin/sh",
		Primary: "deploy",
		Groups:  []string{"wheel"},
	}

	tests := []struct {
		name   string
		params *protocol.UserEnsureParams
		want   []string
	}{
		{
			name:   "nothing to change",
			params: &protocol.UserEnsureParams{Name: "deploy", Shell: "/bin/sh", Groups: []string{"wheel"}},
			want:   nil,
		},
		{
			name:   "shell change",
			params: &protocol.UserEnsureParams{Name: "deploy", Shell: "/bin/bash"},
			want:   []string{"-s", "/bin/bash", "deploy"},
		},
		{
			name:   "append missing group",
			params: &protocol.UserEnsureParams{Name: "deploy", Groups: []string{"wheel", "docker"}, Append: true},
			want:   []string{"-a", "-G", "docker", "deploy"},
		},
		{
			name:   "append with nothing missing",
			params: &protocol.UserEnsureParams{Name: "deploy", Groups: []string{"wheel"}, Append: true},
			want:   nil,
		},
		{
			name:   "replace group set",
			params: &protocol.UserEnsureParams{Name: "deploy", Groups: []string{"docker"}},
			want:   []string{"-G", "docker", "deploy"},
		},
		{
			name:   "same groups in different order",
			params: &protocol.UserEnsureParams{Name: "deploy", Shell: "/bin/sh", Groups: []string{"wheel"}},
			want:   nil,
		},
		{
			name:   "uid change",
			params: &protocol.UserEnsureParams{Name: "deploy", UID: 1600},
			want:   []string{"-u", "1600", "deploy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := usermodArgs(tt.params, current); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("usermodArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMissingGroups(t *testing.T) {
	got := missingGroups([]string{"wheel", "docker", "adm"}, []string{"docker"})
	want := []string{"wheel", "adm"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("missingGroups() = %v, want %v", got, want)
	}
}

func TestSameGroups(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want bool
	}{
		{"equal ordered", []string{"a", "b"}, []string{"a", "b"}, true},
		{"equal unordered", []string{"b", "a"}, []string{"a", "b"}, true},
		{"different lengths", []string{"a"}, []string{"a", "b"}, false},
		{"different members", []string{"a", "c"}, []string{"a", "b"}, false},
		{"both empty", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameGroups(tt.a, tt.b); got != tt.want {
				t.Errorf("sameGroups(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
