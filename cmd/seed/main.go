// Package main seeds a TagVote data directory with users, tags, and votes for
// local testing, and prints an access token for every user it creates.
//
// Usage:
//
//	DATA_PATH=~/TagVote/data go run ./cmd/seed
//	go run ./cmd/seed --users 20 --moderators 2 --entities 100 --votes=false
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/auth"
	"github.com/tagvoteapp/tagvote-server/internal/domain"
	"github.com/tagvoteapp/tagvote-server/internal/logger"
	"github.com/tagvoteapp/tagvote-server/internal/search"
	"github.com/tagvoteapp/tagvote-server/internal/service"
	"github.com/tagvoteapp/tagvote-server/internal/sse"
	"github.com/tagvoteapp/tagvote-server/internal/store/sqlite"
)

var (
	numUsers      = flag.Int("users", 10, "Number of regular users to create")
	numModerators = flag.Int("moderators", 1, "Number of moderators to create")
	numEntities   = flag.Int("entities", 25, "Entities per type to tag")
	tagsPerEntity = flag.Int("tags", 4, "Tags attached to each entity")
	castVotes     = flag.Bool("votes", true, "Cast random votes on the attached tags")
	tokenTTL      = flag.Duration("token-ttl", 30*24*time.Hour, "Lifetime of the printed access tokens")
)

var tagPool = []string{
	"landscape", "portrait", "anime", "photorealistic", "night", "street",
	"cyberpunk", "fantasy", "watercolor", "sci-fi", "architecture", "macro",
	"black and white", "character", "concept art", "pixel art", "retro", "nature",
}

func main() {
	flag.Parse()

	basePath := os.Getenv("DATA_PATH")
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		basePath = filepath.Join(home, "TagVote", "data")
	} else if strings.HasPrefix(basePath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get home directory: %v", err)
		}
		basePath = filepath.Join(home, basePath[2:])
	}

	fmt.Printf("Seeding data directory: %s\n", basePath)

	st, err := sqlite.Open(filepath.Join(basePath, "tagvote.db"), nil)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	index, _, err := search.Open(search.Options{DataPath: filepath.Join(basePath, "search")})
	if err != nil {
		log.Fatalf("Failed to open search index: %v", err)
	}
	defer index.Close()

	key, err := auth.LoadOrGenerateKey(filepath.Join(basePath, "auth.key"))
	if err != nil {
		log.Fatalf("Failed to load auth key: %v", err)
	}
	tokens, err := auth.NewTokenService(key, *tokenTTL)
	if err != nil {
		log.Fatalf("Failed to create token service: %v", err)
	}

	discard := logger.Discard()
	pol := service.StaticPolicy{Thresholds: domain.DefaultThresholds()}
	users := service.NewUserService(st)
	tags := service.NewTagService(st, index, sse.NopEmitter{}, nil, discard, time.Minute)
	votes := service.NewVoteService(st, pol, sse.NopEmitter{}, nil, discard)

	ctx := context.Background()

	var voters []*domain.Caller
	for i := range *numModerators {
		u := mustCreateUser(ctx, users, tokens, fmt.Sprintf("moderator-%d", i+1), true)
		voters = append(voters, domain.CallerFor(u))
	}
	for i := range *numUsers {
		u := mustCreateUser(ctx, users, tokens, fmt.Sprintf("user-%d", i+1), false)
		voters = append(voters, domain.CallerFor(u))
	}
	if len(voters) == 0 {
		fmt.Println("No users requested, nothing else to seed")
		return
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

	var attached, cast int
	for _, t := range domain.EntityTypes {
		for id := int64(1); id <= int64(*numEntities); id++ {
			owner := voters[rng.IntN(len(voters))]
			res, err := tags.AttachTags(ctx, owner, service.AttachRequest{
				EntityType: t,
				EntityIDs:  []int64{id},
				TagNames:   pickTags(rng, *tagsPerEntity),
			})
			if err != nil {
				log.Fatalf("Failed to attach tags to %s/%d: %v", t, id, err)
			}
			attached += len(res.Attached)

			if !*castVotes {
				continue
			}
			for _, a := range res.Attached {
				for _, voter := range voters {
					if rng.IntN(3) == 0 {
						continue
					}
					value := 1
					if rng.IntN(4) == 0 {
						value = -1
					}
					if _, err := votes.CastVote(ctx, voter, a.Entity, a.TagID, value); err != nil {
						log.Fatalf("Failed to cast vote: %v", err)
					}
					cast++
				}
			}
		}
	}

	fmt.Printf("\nAttached %d associations, cast %d votes\n", attached, cast)
}

func mustCreateUser(ctx context.Context, users *service.UserService, tokens *auth.TokenService, name string, moderator bool) *domain.User {
	u, err := users.CreateUser(ctx, name, moderator)
	if err != nil {
		log.Fatalf("Failed to create user %s: %v", name, err)
	}
	token, err := tokens.GenerateAccessToken(u)
	if err != nil {
		log.Fatalf("Failed to mint token for %s: %v", name, err)
	}

	role := "user"
	if moderator {
		role = "moderator"
	}
	fmt.Printf("%-10s %-14s %s\n", role, name, token)
	return u
}

func pickTags(rng *rand.Rand, n int) []string {
	n = min(n, len(tagPool))
	picked := make([]string, 0, n)
	for _, i := range rng.Perm(len(tagPool))[:n] {
		picked = append(picked, tagPool[i])
	}
	return picked
}
