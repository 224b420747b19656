// Copyright (C) 2026 CoRATES (dev@corates.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build !dev

package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/corates/docsync/services/docsync/actor"
)

// DebugRoutesEnabled reports whether the debug surface is compiled in.
const DebugRoutesEnabled = false

// RegisterDebugRoutes is a no-op in production builds. The inspection surface
// exposes raw document state and unauthenticated writes, so it only exists
// under the dev build tag.
func RegisterDebugRoutes(_ *gin.RouterGroup, _ *actor.Manager) {}
