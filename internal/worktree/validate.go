// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"fmt"
	"regexp"
	"strings"
)

// Branch and project names end up as git arguments and directory names.
// Restrict them to a safe character set up front rather than trying to
// escape shell metacharacters later.
var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// ValidateBranchName rejects names that could escape a git argument or a
// path component.
func ValidateBranchName(name string) error {
	if name == "" {
		return fmt.Errorf("branch name is required")
	}
	if !safeNamePattern.MatchString(name) {
		return fmt.Errorf("branch name %q contains invalid characters", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("branch name %q contains path traversal", name)
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("branch name %q is not a valid git ref", name)
	}
	return nil
}

// ValidateProjectName rejects names unusable as a single directory
// component.
func ValidateProjectName(name string) error {
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	if !safeNamePattern.MatchString(name) || strings.Contains(name, "/") {
		return fmt.Errorf("project name %q contains invalid characters", name)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("project name %q contains path traversal", name)
	}
	return nil
}
