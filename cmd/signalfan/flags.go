// Copyright (c) Signalfan Authors.
// SPDX-License-Identifier: MPL-2.0

package main

// This file contains flag wrappers that support reading from an environment
// variable. We want flags to take precedence over environment variables, so
// flag parsing must occur after calling the functions here, so that
// environment variable are processed prior to flags.

import (
	"flag"
	"fmt"
	"strconv"
	"time"
)

func StringVar(p **string, name, env, usage string) {
	usage = includeEnvUsage(env, usage)
	// The order here is important. The flag will sets the value to the default
	// value, prior to flag parsing. So after the flag is created, we override
	// the value to the env var, if it is set, or otherwise the defaultVal.
	flag.Var(newStringPtrValue(p), name, usage)
	*p = parseEnv(env, asString)
}

func IntVar(p **int, name, env, usage string) {
	usage = includeEnvUsage(env, usage)
	flag.Var(newIntPtrValue(p), name, usage)
	*p = parseEnv(env, asInt)
}

func BoolVar(p **bool, name, env, usage string) {
	usage = includeEnvUsage(env, usage)
	flag.Var(newBoolPtrValue(p), name, usage)
	*p = parseEnv(env, asBool)
}

func Float64Var(p **float64, name, env, usage string) {
	usage = includeEnvUsage(env, usage)
	flag.Var(newFloat64PtrValue(p), name, usage)
	*p = parseEnv(env, asFloat)
}

func DurationVar(p **Duration, name, env, usage string) {
	usage = includeEnvUsage(env, usage)
	flag.Var(newDurationPtrValue(p), name, usage)
	*p = parseEnv(env, asDuration)
}

func includeEnvUsage(env, usage string) string {
	return fmt.Sprintf("%s Environment variable: %s.", usage, env)
}

// stringPtrValue is a flag.Value which stores the value in a *string.
// If the value was not set the pointer is nil.
type stringPtrValue struct {
	v **string
	b bool
}

func newStringPtrValue(p **string) *stringPtrValue {
	return &stringPtrValue{p, false}
}

func (s *stringPtrValue) Set(val string) error {
	*s.v, s.b = &val, true
	return nil
}

func (s *stringPtrValue) Get() interface{} {
	if s.b {
		return *s.v
	}
	return (*string)(nil)
}

func (s *stringPtrValue) String() string {
	if s.b {
		return **s.v
	}
	return ""
}

// intPtrValue is a flag.Value which stores the value in a *int if it
// can be parsed with strconv.Atoi. If the value was not set the pointer
// is nil.
type intPtrValue struct {
	v **int
	b bool
}

func newIntPtrValue(p **int) *intPtrValue {
	return &intPtrValue{p, false}
}

func (s *intPtrValue) Set(val string) error {
	n, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	*s.v, s.b = &n, true
	return nil
}

func (s *intPtrValue) Get() interface{} {
	if s.b {
		return *s.v
	}
	return (*int)(nil)
}

func (s *intPtrValue) String() string {
	if s.b {
		return strconv.Itoa(**s.v)
	}
	return ""
}

// boolPtrValue is a flag.Value which stores the value in a *bool if it
// can be parsed with strconv.ParseBool. If the value was not set the
// pointer is nil.
type boolPtrValue struct {
	v **bool
	b bool
}

func newBoolPtrValue(p **bool) *boolPtrValue {
	return &boolPtrValue{p, false}
}

func (s *boolPtrValue) IsBoolFlag() bool { return true }

func (s *boolPtrValue) Set(val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*s.v, s.b = &b, true
	return nil
}

func (s *boolPtrValue) Get() interface{} {
	if s.b {
		return *s.v
	}
	return (*bool)(nil)
}

func (s *boolPtrValue) String() string {
	if s.b {
		return strconv.FormatBool(**s.v)
	}
	return ""
}

// float64PtrValue is a flag.Value which stores the value in a *float64
// if it can be parsed with strconv.ParseFloat. If the value was not set
// the pointer is nil.
type float64PtrValue struct {
	v **float64
	b bool
}

func newFloat64PtrValue(p **float64) *float64PtrValue {
	return &float64PtrValue{p, false}
}

func (s *float64PtrValue) Set(val string) error {
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return err
	}
	*s.v, s.b = &f, true
	return nil
}

func (s *float64PtrValue) Get() interface{} {
	if s.b {
		return *s.v
	}
	return (*float64)(nil)
}

func (s *float64PtrValue) String() string {
	if s.b {
		return strconv.FormatFloat(**s.v, 'f', -1, 64)
	}
	return ""
}

// durationPtrValue is a flag.Value which stores the value in a
// *Duration if it can be parsed with time.ParseDuration. If the
// value was not set the pointer is nil.
type durationPtrValue struct {
	v **Duration
	b bool
}

func newDurationPtrValue(p **Duration) *durationPtrValue {
	return &durationPtrValue{p, false}
}

func (s *durationPtrValue) Set(val string) error {
	d, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*s.v, s.b = &Duration{Duration: d}, true
	return nil
}

func (s *durationPtrValue) Get() interface{} {
	if s.b {
		return *s.v
	}
	return (*time.Duration)(nil)
}

func (s *durationPtrValue) String() string {
	if s.b {
		return (*(*s).v).Duration.String()
	}
	return ""
}

func durationVal(t *Duration) time.Duration {
	if t == nil {
		return 0
	}

	return t.Duration
}

func stringVal(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

func intVal(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func boolVal(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}

func floatVal(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
