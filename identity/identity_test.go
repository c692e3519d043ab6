package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/parkgate-io/authcore/internal/testutil"
	"github.com/parkgate-io/authcore/storage"
	"github.com/parkgate-io/authcore/storage/memory"
)

func TestNewUser(t *testing.T) {
	user := NewUser("jdoe", "Jane", "Doe", "Q", "jdoe@example.com", "+15550100")

	testutil.AssertNotEqual(t, "", user.ID)
	testutil.AssertEqual(t, "jdoe", user.Username)
	testutil.AssertEqual(t, "Jane", user.FirstName)
	testutil.AssertEqual(t, "Doe", user.LastName)
	testutil.AssertEqual(t, "Q", user.MiddleName)
	testutil.AssertEqual(t, "jdoe@example.com", user.Mail)
	testutil.AssertEqual(t, "+15550100", user.Mobile)
	testutil.AssertFalse(t, user.CreatedAt.IsZero(), "CreatedAt should be set")

	other := NewUser("jdoe", "", "", "", "", "")
	testutil.AssertNotEqual(t, user.ID, other.ID)
}

func TestFromUser(t *testing.T) {
	user := &storage.User{ID: "user-1", Username: "jdoe"}

	id := FromUser(user)
	testutil.AssertEqual(t, "user-1", id.UserID)
	testutil.AssertEqual(t, "jdoe", id.Username)
}

func TestStoreAuthenticator(t *testing.T) {
	store := memory.New()
	t.Cleanup(store.Stop)
	ctx := context.Background()

	user := NewUser("jdoe", "Jane", "Doe", "", "", "")
	testutil.AssertNoError(t, store.SaveUser(ctx, user))

	auth := &StoreAuthenticator{Users: store}

	byName, err := auth.Authenticate(ctx, "jdoe", "ignored")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, user.ID, byName.UserID)

	byID, err := auth.Authenticate(ctx, user.ID, "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, "jdoe", byID.Username)

	_, err = auth.Authenticate(ctx, "nobody", "")
	testutil.AssertTrue(t, errors.Is(err, ErrAuthenticationFailed), "expected ErrAuthenticationFailed")
}
