package repositories

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"fixwork_backend/internal/models"
)

// openTestDB connects to the database named by TEST_DATABASE_URL. The
// eviction subquery runs real SQL, so it gets a real database; without
// one the test is skipped.
func openTestDB(t *testing.T, dst ...any) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(dst...))
	return db
}

func TestCreateEvictsOldestBeyondCap(t *testing.T) {
	db := openTestDB(t, &models.Notification{})
	repo := NewNotificationRepository(db)

	userID := uuid.NewString()
	base := time.Now().Add(-time.Hour)
	total := MaxNotificationsPerUser + 5

	for i := 0; i < total; i++ {
		n := &models.Notification{
			UserID:   userID,
			Kind:     "job_status_update",
			Category: models.CategoryJob,
			Title:    fmt.Sprintf("Job %d", i),
		}
		n.ID = uuid.NewString()
		n.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(n))
	}

	var kept []models.Notification
	require.NoError(t, db.Where("user_id = ?", userID).Order("created_at DESC").Find(&kept).Error)
	require.Len(t, kept, MaxNotificationsPerUser)
	assert.Equal(t, fmt.Sprintf("Job %d", total-1), kept[0].Title)
	assert.Equal(t, fmt.Sprintf("Job %d", total-MaxNotificationsPerUser), kept[len(kept)-1].Title)

	t.Cleanup(func() {
		db.Where("user_id = ?", userID).Delete(&models.Notification{})
	})
}
