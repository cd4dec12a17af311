// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// method builds: void M() { lock (this) { return F(); } }
func method() (fn, lock, ret, inv, name *Node) {
	name = New(KindIdentifier, "F")
	inv = New(KindInvocation, "F").Add(RoleCallee, name)
	ret = New(KindReturn, "").Add(RoleExpression, inv)
	lock = New(KindLock, "").Add(RoleBody, New(KindBlock, "").Add(RoleNone, ret))
	body := New(KindBlock, "").Add(RoleNone, lock)
	fn = New(KindMethod, "M").Add(RoleBody, body)
	New(KindClass, "C").Add(RoleMember, fn)
	return fn, lock, ret, inv, name
}

func TestNode_Add(t *testing.T) {
	parent := New(KindIf, "")
	cond := New(KindIdentifier, "ok")
	parent.Add(RoleCondition, cond).Add(RoleAlternative, nil)

	require.Len(t, parent.Children, 1, "nil children are skipped")
	assert.Same(t, parent, cond.Parent)
	assert.Equal(t, RoleCondition, cond.Role)
	assert.Same(t, cond, parent.Child(RoleCondition))
	assert.Nil(t, parent.Child(RoleAlternative))
	assert.Nil(t, (*Node)(nil).Child(RoleBody))
	assert.Len(t, parent.ChildrenWith(RoleCondition), 1)
}

func TestNode_Ancestry(t *testing.T) {
	fn, lock, ret, inv, name := method()

	assert.Same(t, fn, name.EnclosingFunction())
	assert.Nil(t, fn.Parent.EnclosingFunction())
	assert.Same(t, ret, inv.EnclosingStatement())
	assert.Same(t, lock, name.FindAncestor(KindLock, fn))
	assert.Nil(t, name.FindAncestor(KindClass, fn), "the boundary stops the search")
	assert.NotNil(t, name.FindAncestor(KindClass, nil))
	assert.True(t, fn.Contains(name))
	assert.True(t, name.Contains(name))
	assert.False(t, name.Contains(fn))
	assert.Same(t, fn.Child(RoleBody), fn.Body())
}

func TestNode_EnclosingStatementStopsAtFunctions(t *testing.T) {
	name := New(KindIdentifier, "x")
	lambda := New(KindLambda, "").Add(RoleBody, name)
	New(KindExpressionStatement, "").Add(RoleExpression, lambda)

	assert.Nil(t, name.EnclosingStatement(), "an expression-bodied lambda has no statement")
	assert.Same(t, lambda, name.EnclosingFunction())
}

func TestNode_Walk(t *testing.T) {
	fn, _, _, _, _ := method()

	var kinds []Kind
	fn.Walk(func(n *Node) bool {
		kinds = append(kinds, n.Kind)
		return n.Kind != KindLock
	})
	assert.Equal(t, []Kind{KindMethod, KindBlock, KindLock}, kinds)

	var nilNode *Node
	nilNode.Walk(func(*Node) bool {
		t.Fatal("walk on nil must not call fn")
		return true
	})
}

func TestNode_Statements(t *testing.T) {
	ret := New(KindReturn, "")
	block := New(KindBlock, "").Add(RoleNone, ret)

	assert.Equal(t, []*Node{ret}, block.Statements())
	assert.Equal(t, []*Node{ret}, ret.Statements())
	assert.Nil(t, (*Node)(nil).Statements())
}

func TestNode_String(t *testing.T) {
	n := New(KindMethod, "Read")
	n.Pos = Position{Line: 3, Column: 5}
	assert.Equal(t, "method Read @3:5", n.String())
	assert.Equal(t, "<nil>", (*Node)(nil).String())
}

func TestPosition_Before(t *testing.T) {
	assert.True(t, Position{Line: 1, Column: 9}.Before(Position{Line: 2, Column: 1}))
	assert.True(t, Position{Line: 2, Column: 1}.Before(Position{Line: 2, Column: 4}))
	assert.False(t, Position{Line: 2, Column: 4}.Before(Position{Line: 2, Column: 4}))
}

func TestKind_Predicates(t *testing.T) {
	for k := KindCompilationUnit; k < kindCount; k++ {
		assert.True(t, k.Valid(), k.String())
		assert.NotEqual(t, "invalid", k.String(), "kind %d has no name", int(k))
	}
	assert.False(t, KindUnknown.Valid())
	assert.False(t, kindCount.Valid())
	assert.Equal(t, "invalid", kindCount.String())

	assert.True(t, KindStruct.IsTypeDeclaration())
	assert.True(t, KindOperator.IsMemberFunction())
	assert.False(t, KindLambda.IsMemberFunction())
	assert.True(t, KindLocalFunction.IsNestedFunction())
	assert.True(t, KindLambda.IsFunction())
	assert.True(t, KindLocalFunction.IsStatement())
	assert.True(t, KindOtherStatement.IsStatement())
	assert.False(t, KindInvocation.IsStatement())
}
