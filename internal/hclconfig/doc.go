// Package hclconfig loads kernelbake manifests written in HCL. Attribute
// expressions may reference `env.<NAME>`, `project_dir` and a small set of
// string and collection functions.
package hclconfig
