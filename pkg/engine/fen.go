// Copyright 2026 the Chess-GPT authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// Color identifies the side to move.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// CastlingSide identifies a castling direction.
type CastlingSide string

const (
	Kingside  CastlingSide = "kingside"
	Queenside CastlingSide = "queenside"
)

// FEN holds the six space-separated fields of a FEN record. Only field
// structure is validated; legality of the placement is the engine's
// concern.
type FEN struct {
	Placement  string
	SideToMove Color
	Castling   string
	EnPassant  string
	HalfMove   int
	FullMove   int
}

// ParseFEN splits and validates the field structure of a FEN string.
func ParseFEN(s string) (*FEN, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 6 {
		return nil, fmt.Errorf("fen has %d fields, want 6", len(fields))
	}

	ranks := strings.Split(fields[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("fen placement has %d ranks, want 8", len(ranks))
	}

	var side Color
	switch fields[1] {
	case "w":
		side = White
	case "b":
		side = Black
	default:
		return nil, fmt.Errorf("fen side-to-move %q, want w or b", fields[1])
	}

	castling := fields[2]
	if castling != "-" {
		for _, c := range castling {
			if !strings.ContainsRune("KQkq", c) {
				return nil, fmt.Errorf("fen castling field %q has invalid flag %q", castling, string(c))
			}
		}
	}

	half, err := strconv.Atoi(fields[4])
	if err != nil || half < 0 {
		return nil, fmt.Errorf("fen halfmove clock %q is not a non-negative integer", fields[4])
	}
	full, err := strconv.Atoi(fields[5])
	if err != nil || full < 1 {
		return nil, fmt.Errorf("fen fullmove number %q is not a positive integer", fields[5])
	}

	return &FEN{
		Placement:  fields[0],
		SideToMove: side,
		Castling:   castling,
		EnPassant:  fields[3],
		HalfMove:   half,
		FullMove:   full,
	}, nil
}

// CanCastle reports whether the castling-rights field still permits the
// given color and side. Rights only record that castling has not been
// forfeited; whether it is legal right now is the engine's call.
func (f *FEN) CanCastle(color Color, side CastlingSide) bool {
	var flag string
	switch {
	case color == White && side == Kingside:
		flag = "K"
	case color == White && side == Queenside:
		flag = "Q"
	case color == Black && side == Kingside:
		flag = "k"
	case color == Black && side == Queenside:
		flag = "q"
	}
	return strings.Contains(f.Castling, flag)
}

// AnyCastling reports whether the given color retains any castling right.
func (f *FEN) AnyCastling(color Color) bool {
	return f.CanCastle(color, Kingside) || f.CanCastle(color, Queenside)
}
