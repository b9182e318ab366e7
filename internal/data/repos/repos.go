package repos

import (
	"github.com/rhizomelab/rhizome-backend/internal/data/repos/auth"
	"github.com/rhizomelab/rhizome-backend/internal/data/repos/ecs"
	"github.com/rhizomelab/rhizome-backend/internal/data/repos/user"
)

type UserRepo = user.UserRepo
type UserTokenRepo = auth.UserTokenRepo

type EntityRepo = ecs.EntityRepo
type ComponentRepo = ecs.ComponentRepo
type MatchFilters = ecs.MatchFilters

var NewUserRepo = user.NewUserRepo
var NewUserTokenRepo = auth.NewUserTokenRepo
var NewEntityRepo = ecs.NewEntityRepo
var NewComponentRepo = ecs.NewComponentRepo
