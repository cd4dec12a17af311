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

// Kind identifies the grammatical category of a Node.
//
// The set is closed: front-ends map every construct they understand onto one
// of these kinds and use KindUnknown for anything else. Analysis passes treat
// KindUnknown (and any value outside the declared range) as a fatal error when
// they need to reason about it.
type Kind int

const (
	// KindUnknown is a construct the front-end could not map.
	KindUnknown Kind = iota

	// Declarations.
	KindCompilationUnit
	KindNamespace
	KindClass
	KindInterface
	KindStruct
	KindMethod
	KindConstructor
	KindOperator
	KindProperty
	KindField
	KindLocalFunction
	KindLambda

	// Statements.
	KindBlock
	KindExpressionStatement
	KindReturn
	KindIf
	KindThrow
	KindLocalDeclaration
	KindLock
	KindYield
	KindTry
	KindUsing
	KindLoop
	KindOtherStatement

	// Expressions.
	KindInvocation
	KindMemberAccess
	KindIdentifier
	KindArgumentList
	KindArgument
	KindAwait
	KindAssignment
	KindEventSubscription
	KindCast
	KindConditional
	KindParenthesized
	KindVariableDeclarator
	KindQuery
	KindBinary
	KindObjectCreation
	KindLiteral
	KindThis
	KindOtherExpression

	kindCount
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindCompilationUnit:
		return "compilation_unit"
	case KindNamespace:
		return "namespace"
	case KindClass:
		return "class"
	case KindInterface:
		return "interface"
	case KindStruct:
		return "struct"
	case KindMethod:
		return "method"
	case KindConstructor:
		return "constructor"
	case KindOperator:
		return "operator"
	case KindProperty:
		return "property"
	case KindField:
		return "field"
	case KindLocalFunction:
		return "local_function"
	case KindLambda:
		return "lambda"
	case KindBlock:
		return "block"
	case KindExpressionStatement:
		return "expression_statement"
	case KindReturn:
		return "return"
	case KindIf:
		return "if"
	case KindThrow:
		return "throw"
	case KindLocalDeclaration:
		return "local_declaration"
	case KindLock:
		return "lock"
	case KindYield:
		return "yield"
	case KindTry:
		return "try"
	case KindUsing:
		return "using"
	case KindLoop:
		return "loop"
	case KindOtherStatement:
		return "other_statement"
	case KindInvocation:
		return "invocation"
	case KindMemberAccess:
		return "member_access"
	case KindIdentifier:
		return "identifier"
	case KindArgumentList:
		return "argument_list"
	case KindArgument:
		return "argument"
	case KindAwait:
		return "await"
	case KindAssignment:
		return "assignment"
	case KindEventSubscription:
		return "event_subscription"
	case KindCast:
		return "cast"
	case KindConditional:
		return "conditional"
	case KindParenthesized:
		return "parenthesized"
	case KindVariableDeclarator:
		return "variable_declarator"
	case KindQuery:
		return "query"
	case KindBinary:
		return "binary"
	case KindObjectCreation:
		return "object_creation"
	case KindLiteral:
		return "literal"
	case KindThis:
		return "this"
	case KindOtherExpression:
		return "other_expression"
	default:
		return "invalid"
	}
}

// Valid reports whether k is one of the declared kinds other than KindUnknown.
func (k Kind) Valid() bool {
	return k > KindUnknown && k < kindCount
}

// IsTypeDeclaration reports whether k declares a class, interface or struct.
func (k Kind) IsTypeDeclaration() bool {
	return k == KindClass || k == KindInterface || k == KindStruct
}

// IsMemberFunction reports whether k declares a type member with a body.
func (k Kind) IsMemberFunction() bool {
	return k == KindMethod || k == KindConstructor || k == KindOperator
}

// IsNestedFunction reports whether k is a function declared inside another
// function body (lambda or local function).
func (k Kind) IsNestedFunction() bool {
	return k == KindLambda || k == KindLocalFunction
}

// IsFunction reports whether k owns an executable body.
func (k Kind) IsFunction() bool {
	return k.IsMemberFunction() || k.IsNestedFunction()
}

// IsStatement reports whether k is a statement kind.
func (k Kind) IsStatement() bool {
	return (k >= KindBlock && k <= KindOtherStatement) || k == KindLocalFunction
}
